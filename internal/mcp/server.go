// Package mcp exposes the review grouping over the Model Context Protocol.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/store"
)

// Tool name constants.
const (
	ToolListGroups    = "list_groups"
	ToolGetGroup      = "get_group"
	ToolMarkGroupSeen = "mark_group_seen"
	ToolRegroup       = "regroup"
	ToolGetStats      = "get_stats"
)

// GroupManager is the grouping surface the tools drive. *grouping.Manager
// implements it.
type GroupManager interface {
	Config() grouping.GroupConfig
	AnalyzedGroups(ctx context.Context) []grouping.GroupInfo
	UnseenGroups(ctx context.Context) []grouping.GroupInfo
	Group(ctx context.Context, key grouping.GroupKey) (grouping.GroupInfo, bool)
	MarkGroupSeen(key grouping.GroupKey) *grouping.SeenHandle
	MarkGroupUnseen(key grouping.GroupKey) *grouping.SeenHandle
	Regroup(scope grouping.ScopeID, attr grouping.Attribute, sortBy grouping.GroupSortBy, order grouping.SortOrder, force bool) *grouping.RegroupTask
}

// StatsSource reports catalog statistics.
type StatsSource interface {
	GetStats() (*store.Stats, error)
}

// Common argument helpers for recurring tool option definitions.

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

func withOffset() mcp.ToolOption {
	return mcp.WithNumber("offset",
		mcp.Description("Number of results to skip for pagination (default 0)"),
	)
}

func withGroupKey() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("attribute",
			mcp.Required(),
			mcp.Description("Grouping attribute of the group"),
			mcp.Enum(attributeNames()...),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("Group value: folder path, category (CAT-0..CAT-5), tag, mime type, hash set name, ..."),
		),
		mcp.WithNumber("scope",
			mcp.Description("Data source ID; required for path groups, optional filter otherwise"),
		),
	}
}

func attributeNames() []string {
	attrs := grouping.GroupableAttributes()
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = string(a)
	}
	return names
}

// NewServer builds an MCP server with the review tools registered.
func NewServer(groups GroupManager, stats StatsSource) *server.MCPServer {
	s := server.NewMCPServer(
		"tilevault",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{groups: groups, stats: stats}

	s.AddTool(listGroupsTool(), h.listGroups)
	s.AddTool(getGroupTool(), h.getGroup)
	s.AddTool(markGroupSeenTool(), h.markGroupSeen)
	s.AddTool(regroupTool(), h.regroup)
	s.AddTool(getStatsTool(), h.getStats)
	return s
}

// Serve creates an MCP server with the review tools and serves over stdio.
// It blocks until stdin is closed or the context is cancelled.
func Serve(ctx context.Context, groups GroupManager, stats StatsSource) error {
	stdio := server.NewStdioServer(NewServer(groups, stats))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func listGroupsTool() mcp.Tool {
	return mcp.NewTool(ToolListGroups,
		mcp.WithDescription("List fully analyzed groups in review order. The unseen view omits groups already marked seen."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("view",
			mcp.Description("Which view to list (default analyzed)"),
			mcp.Enum(string(grouping.AnalyzedView), string(grouping.UnseenView)),
		),
		withLimit("50"),
		withOffset(),
	)
}

func getGroupTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Get one group with its member file IDs, hash hit count and uncategorized count."),
		mcp.WithReadOnlyHintAnnotation(true),
	}
	return mcp.NewTool(ToolGetGroup, append(opts, withGroupKey()...)...)
}

func markGroupSeenTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Mark a group as seen (or unseen) by the current reviewer."),
		mcp.WithBoolean("seen",
			mcp.Description("false marks the group unseen again (default true)"),
		),
	}
	return mcp.NewTool(ToolMarkGroupSeen, append(opts, withGroupKey()...)...)
}

func regroupTool() mcp.Tool {
	return mcp.NewTool(ToolRegroup,
		mcp.WithDescription("Change how files are grouped and how groups are ordered. Omitted options keep their current value. Waits for the regroup to finish."),
		mcp.WithString("group_by",
			mcp.Description("Grouping attribute"),
			mcp.Enum(attributeNames()...),
		),
		mcp.WithString("sort_by",
			mcp.Description("Group ordering"),
			mcp.Enum("priority", "size", "value", "none"),
		),
		mcp.WithString("sort_order",
			mcp.Description("Ordering direction"),
			mcp.Enum("asc", "desc"),
		),
		mcp.WithNumber("scope",
			mcp.Description("Restrict to one data source ID; 0 for all"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Rebuild groups even when only the ordering changed"),
		),
	)
}

func getStatsTool() mcp.Tool {
	return mcp.NewTool(ToolGetStats,
		mcp.WithDescription("Get catalog overview: data sources, files, analyzed files, hash sets, hash hits and seen groups."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
