package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wesm/tilevault/internal/grouping"
)

const maxLimit = 1000

// regroupTimeout bounds how long the regroup tool waits for its task.
const regroupTimeout = 2 * time.Minute

type handlers struct {
	groups GroupManager
	stats  StatsSource
}

type groupKeyJSON struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	Scope     int64  `json:"scope,omitempty"`
}

type groupJSON struct {
	Key           groupKeyJSON `json:"key"`
	DisplayName   string       `json:"display_name"`
	Size          int          `json:"size"`
	Seen          bool         `json:"seen"`
	HashHits      int64        `json:"hash_hits"`
	Uncategorized int64        `json:"uncategorized"`
	Members       []int64      `json:"members,omitempty"`
}

func toKeyJSON(k grouping.GroupKey) groupKeyJSON {
	return groupKeyJSON{Attribute: string(k.Attribute), Value: k.Value, Scope: int64(k.Scope)}
}

func toGroupJSON(info grouping.GroupInfo) groupJSON {
	g := groupJSON{
		Key:           toKeyJSON(info.Key),
		DisplayName:   info.DisplayName,
		Size:          info.Size,
		Seen:          info.Seen,
		HashHits:      info.HashHits,
		Uncategorized: info.Uncategorized,
	}
	if len(info.Members) > 0 {
		g.Members = make([]int64, len(info.Members))
		for i, id := range info.Members {
			g.Members[i] = int64(id)
		}
	}
	return g
}

// getScopeArg extracts an optional non-negative integer scope.
func getScopeArg(args map[string]any) (grouping.ScopeID, error) {
	raw, present := args["scope"]
	if !present || raw == nil {
		return grouping.NoScope, nil
	}
	v, ok := raw.(float64)
	if !ok || v != math.Trunc(v) || v < 0 || v > math.MaxInt64 {
		return 0, fmt.Errorf("scope must be a non-negative integer")
	}
	return grouping.ScopeID(v), nil
}

// getKeyArg builds a group key from the attribute, value and scope arguments.
func getKeyArg(args map[string]any) (grouping.GroupKey, error) {
	attr, _ := args["attribute"].(string)
	if attr == "" {
		return grouping.GroupKey{}, errors.New("attribute parameter is required")
	}
	value, _ := args["value"].(string)
	scope, err := getScopeArg(args)
	if err != nil {
		return grouping.GroupKey{}, err
	}
	return grouping.ParseGroupKey(attr, value, scope)
}

func (h *handlers) listGroups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	view, _ := args["view"].(string)
	var infos []grouping.GroupInfo
	switch grouping.ViewName(view) {
	case "", grouping.AnalyzedView:
		view = string(grouping.AnalyzedView)
		infos = h.groups.AnalyzedGroups(ctx)
	case grouping.UnseenView:
		infos = h.groups.UnseenGroups(ctx)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid view: %s", view)), nil
	}

	limit := limitArg(args, "limit", 50)
	offset := limitArg(args, "offset", 0)
	total := len(infos)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	groups := make([]groupJSON, 0, end-offset)
	for _, info := range infos[offset:end] {
		groups = append(groups, toGroupJSON(info))
	}

	resp := struct {
		View   string      `json:"view"`
		Total  int         `json:"total"`
		Groups []groupJSON `json:"groups"`
	}{
		View:   view,
		Total:  total,
		Groups: groups,
	}
	return jsonResult(resp)
}

func (h *handlers) getGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := getKeyArg(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info, ok := h.groups.Group(ctx, key)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("group not found: %s", key)), nil
	}
	return jsonResult(toGroupJSON(info))
}

func (h *handlers) markGroupSeen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	key, err := getKeyArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	seen := true
	if v, ok := args["seen"].(bool); ok {
		seen = v
	}

	mark := h.groups.MarkGroupSeen
	if !seen {
		mark = h.groups.MarkGroupUnseen
	}
	if err := mark(key).Wait(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("mark group failed: %v", err)), nil
	}

	resp := struct {
		Group groupKeyJSON `json:"group"`
		Seen  bool         `json:"seen"`
	}{
		Group: toKeyJSON(key),
		Seen:  seen,
	}
	return jsonResult(resp)
}

func (h *handlers) regroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	cfg := h.groups.Config()
	attr, sortBy, order, scope := cfg.Attribute, cfg.SortBy, cfg.Order, cfg.Scope
	var err error
	if v, _ := args["group_by"].(string); v != "" {
		if attr, err = grouping.ParseAttribute(v); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if v, _ := args["sort_by"].(string); v != "" {
		if sortBy, err = grouping.ParseSortBy(v); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if v, _ := args["sort_order"].(string); v != "" {
		if order, err = grouping.ParseSortOrder(v); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if _, present := args["scope"]; present {
		if scope, err = getScopeArg(args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	force, _ := args["force"].(bool)

	status := "sorted"
	if task := h.groups.Regroup(scope, attr, sortBy, order, force); task != nil {
		waitCtx, cancel := context.WithTimeout(ctx, regroupTimeout)
		err := task.Wait(waitCtx)
		cancel()
		switch {
		case err == nil:
			status = "completed"
		case errors.Is(err, grouping.ErrCancelled):
			status = "cancelled"
		default:
			return mcp.NewToolResultError(fmt.Sprintf("regroup failed: %v", err)), nil
		}
	}

	cfg = h.groups.Config()
	resp := struct {
		Status    string `json:"status"`
		GroupBy   string `json:"group_by"`
		SortBy    string `json:"sort_by"`
		SortOrder string `json:"sort_order"`
		Scope     int64  `json:"scope,omitempty"`
		Groups    int    `json:"analyzed_groups"`
	}{
		Status:    status,
		GroupBy:   string(cfg.Attribute),
		SortBy:    cfg.SortBy.Name(),
		SortOrder: cfg.Order.String(),
		Scope:     int64(cfg.Scope),
		Groups:    len(h.groups.AnalyzedGroups(ctx)),
	}
	return jsonResult(resp)
}

func (h *handlers) getStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.stats == nil {
		return mcp.NewToolResultError("catalog not available"), nil
	}
	stats, err := h.stats.GetStats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}

	resp := struct {
		DataSources int64 `json:"data_sources"`
		Files       int64 `json:"files"`
		Analyzed    int64 `json:"analyzed_files"`
		HashSets    int64 `json:"hash_sets"`
		HashHits    int64 `json:"hash_hits"`
		Tags        int64 `json:"tags"`
		SeenGroups  int64 `json:"seen_groups"`
	}{
		DataSources: stats.DataSourceCount,
		Files:       stats.FileCount,
		Analyzed:    stats.AnalyzedCount,
		HashSets:    stats.HashSetCount,
		HashHits:    stats.HashHitCount,
		Tags:        stats.TagCount,
		SeenGroups:  stats.SeenGroupCount,
	}
	return jsonResult(resp)
}

// limitArg extracts a non-negative integer limit from a map, with a default.
// JSON numbers arrive as float64. Clamps to maxLimit to prevent excessive
// result sets.
func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
