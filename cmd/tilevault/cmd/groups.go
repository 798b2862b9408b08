package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/store"
)

var (
	groupsView    string
	groupsGroupBy string
	groupsSortBy  string
	groupsOrder   string
	groupsScope   int64
	groupsLimit   int
	groupsJSON    bool
)

const groupNameWidth = 48

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List review groups",
	Long: `List fully analyzed groups in review order.

Groups with hash hits come first under the default priority ordering. The
unseen view leaves out groups the current reviewer (or, in collaborative
mode, anyone) has marked seen. Flags override [review] in config.toml for
this listing only.

Examples:
  tilevault groups
  tilevault groups --view unseen
  tilevault groups --group-by category
  tilevault groups --group-by mime_type --sort-by size --order desc --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyGroupFlags(); err != nil {
			return err
		}
		view := grouping.ViewName(strings.ToLower(groupsView))
		if view != grouping.AnalyzedView && view != grouping.UnseenView {
			return fmt.Errorf("invalid --view %q: use analyzed or unseen", groupsView)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := openManager(cmd.Context(), s)
		if err != nil {
			return err
		}
		defer m.Close()

		infos := m.AnalyzedGroups(cmd.Context())
		if view == grouping.UnseenView {
			infos = m.UnseenGroups(cmd.Context())
		}
		total := len(infos)
		if groupsLimit > 0 && len(infos) > groupsLimit {
			infos = infos[:groupsLimit]
		}

		if groupsJSON {
			return outputGroupsJSON(cmd.OutOrStdout(), infos)
		}
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No groups.")
			return nil
		}
		outputGroupsTable(cmd.OutOrStdout(), m.Config(), infos, total)
		return nil
	},
}

var groupsShowCmd = &cobra.Command{
	Use:   "show <attribute> <value>",
	Short: "Show one group and its files",
	Long: `Show one group with its member files.

Path groups need --scope, the data source ID shown by "tilevault groups".

Examples:
  tilevault groups show path /DCIM/100APPLE --scope 1
  tilevault groups show category CAT-1
  tilevault groups show hash_set known-bad`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := grouping.ParseGroupKey(args[0], args[1], grouping.ScopeID(groupsScope))
		if err != nil {
			return err
		}
		if key.Attribute == grouping.AttrPath && key.Scope == grouping.NoScope {
			return fmt.Errorf("path groups need --scope")
		}
		groupsGroupBy = string(key.Attribute)
		if err := applyGroupFlags(); err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := openManager(cmd.Context(), s)
		if err != nil {
			return err
		}
		defer m.Close()

		info, ok := m.Group(cmd.Context(), key)
		if !ok {
			return fmt.Errorf("group %s not found (is it fully analyzed?)", key)
		}
		if groupsJSON {
			return outputGroupsJSON(cmd.OutOrStdout(), []grouping.GroupInfo{info})
		}
		return outputGroupDetail(cmd.OutOrStdout(), s, info)
	},
}

// applyGroupFlags overrides the [review] grouping with explicit flags.
func applyGroupFlags() error {
	if groupsGroupBy != "" {
		cfg.Review.GroupBy = groupsGroupBy
	}
	if groupsSortBy != "" {
		cfg.Review.SortBy = groupsSortBy
	}
	if groupsOrder != "" {
		cfg.Review.SortOrder = groupsOrder
	}
	_, err := cfg.GroupConfig()
	return err
}

// fitWidth truncates or pads s to exactly width terminal cells. Wide
// characters (CJK, emoji) count as two cells.
func fitWidth(s string, width int) string {
	s = strings.NewReplacer("\n", " ", "\r", "", "\t", " ").Replace(s)
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "...")
	}
	return runewidth.FillRight(s, width)
}

func outputGroupsTable(w io.Writer, gc grouping.GroupConfig, infos []grouping.GroupInfo, total int) {
	fmt.Fprintf(w, "Grouped by %s, sorted by %s\n\n", gc.Attribute.DisplayName(), gc.SortBy.DisplayName())
	header := fmt.Sprintf("%s  %6s  %5s  %5s  %5s  %s",
		fitWidth(strings.ToUpper(gc.Attribute.DisplayName()), groupNameWidth), "FILES", "HITS", "UNCAT", "SCOPE", "SEEN")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("─", runewidth.StringWidth(header)))
	for _, info := range infos {
		seen := ""
		if info.Seen {
			seen = "yes"
		}
		scope := "-"
		if info.Key.Scope != grouping.NoScope {
			scope = fmt.Sprintf("%d", info.Key.Scope)
		}
		fmt.Fprintf(w, "%s  %6d  %5d  %5d  %5s  %s\n",
			fitWidth(info.DisplayName, groupNameWidth), info.Size, info.HashHits, info.Uncategorized, scope, seen)
	}
	fmt.Fprintf(w, "\nShowing %d of %d groups\n", len(infos), total)
}

func outputGroupDetail(w io.Writer, s *store.Store, info grouping.GroupInfo) error {
	fmt.Fprintf(w, "%s\n", info.DisplayName)
	fmt.Fprintf(w, "  Files:          %d\n", info.Size)
	fmt.Fprintf(w, "  Hash hits:      %d\n", info.HashHits)
	fmt.Fprintf(w, "  Uncategorized:  %d\n", info.Uncategorized)
	fmt.Fprintf(w, "  Seen:           %v\n\n", info.Seen)

	fmt.Fprintf(w, "%8s  %-20s  %s\n", "ID", "TYPE", "PATH")
	for _, id := range info.Members {
		f, err := s.GetFile(int64(id))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%8d  %-20s  %s\n", f.ID, f.MimeType, f.Path())
	}
	return nil
}

type groupOutput struct {
	Attribute     string  `json:"attribute"`
	Value         string  `json:"value"`
	Scope         int64   `json:"scope,omitempty"`
	DisplayName   string  `json:"display_name"`
	Size          int     `json:"size"`
	Seen          bool    `json:"seen"`
	HashHits      int64   `json:"hash_hits"`
	Uncategorized int64   `json:"uncategorized"`
	Members       []int64 `json:"members,omitempty"`
}

func outputGroupsJSON(w io.Writer, infos []grouping.GroupInfo) error {
	output := make([]groupOutput, len(infos))
	for i, info := range infos {
		g := groupOutput{
			Attribute:     string(info.Key.Attribute),
			Value:         info.Key.Value,
			Scope:         int64(info.Key.Scope),
			DisplayName:   info.DisplayName,
			Size:          info.Size,
			Seen:          info.Seen,
			HashHits:      info.HashHits,
			Uncategorized: info.Uncategorized,
		}
		for _, id := range info.Members {
			g.Members = append(g.Members, int64(id))
		}
		output[i] = g
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsShowCmd)

	groupsCmd.Flags().StringVar(&groupsView, "view", "analyzed", "View to list: analyzed or unseen")
	groupsCmd.Flags().IntVarP(&groupsLimit, "limit", "n", 0, "Maximum number of groups (0 for all)")
	groupsCmd.Flags().StringVar(&groupsGroupBy, "group-by", "", "Grouping attribute: path, hash_set, tags, category, mime_type")
	groupsCmd.Flags().StringVar(&groupsSortBy, "sort-by", "", "Group ordering: priority, size, value, none")
	groupsCmd.Flags().StringVar(&groupsOrder, "order", "", "Sort direction: asc or desc")
	groupsCmd.Flags().BoolVar(&groupsJSON, "json", false, "Output as JSON")

	groupsShowCmd.Flags().Int64Var(&groupsScope, "scope", 0, "Data source ID (required for path groups)")
	groupsShowCmd.Flags().BoolVar(&groupsJSON, "json", false, "Output as JSON")
}
