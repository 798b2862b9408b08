package cmd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var hashSetCmd = &cobra.Command{
	Use:   "hashset",
	Short: "Manage known-file hash sets",
}

var hashSetImportCmd = &cobra.Command{
	Use:   "import <name> <file>",
	Short: "Import MD5 digests into a hash set",
	Long: `Import MD5 digests into a named hash set, creating it if needed.

The file holds one digest per line. md5sum output ("<digest>  <path>") is
accepted; only the first field is read. Blank lines and lines starting with
# are ignored. Use - to read from stdin.

Examples:
  tilevault hashset import known-bad known-bad.md5
  md5sum *.jpg | tilevault hashset import reference -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]

		var r io.Reader = cmd.InOrStdin()
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open hash list: %w", err)
			}
			defer f.Close()
			r = f
		}
		digests, bad, err := readDigests(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		_, added, err := s.ImportHashSet(name, digests)
		if err != nil {
			return err
		}
		logger.Info("hash set imported", "name", name, "read", len(digests), "added", added, "invalid", bad)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Hash set %q: %d digests read, %d new", name, len(digests), added)
		if bad > 0 {
			fmt.Fprintf(out, ", %d invalid lines skipped", bad)
		}
		fmt.Fprintln(out)
		return nil
	},
}

var hashSetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hash sets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		sets, err := s.ListHashSets()
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No hash sets imported.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDIGESTS")
		for _, hs := range sets {
			fmt.Fprintf(w, "%s\t%d\n", hs.Name, hs.Entries)
		}
		return w.Flush()
	},
}

// readDigests returns the valid MD5 digests in r and the number of
// non-empty lines that were not one.
func readDigests(r io.Reader) ([]string, int, error) {
	var digests []string
	bad := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d := strings.ToLower(strings.Fields(line)[0])
		if len(d) != 32 {
			bad++
			continue
		}
		if _, err := hex.DecodeString(d); err != nil {
			bad++
			continue
		}
		digests = append(digests, d)
	}
	return digests, bad, sc.Err()
}

func init() {
	rootCmd.AddCommand(hashSetCmd)
	hashSetCmd.AddCommand(hashSetImportCmd, hashSetListCmd)
}
