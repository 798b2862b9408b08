package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/tilevault/internal/grouping"
)

// StatsResponse represents catalog statistics.
type StatsResponse struct {
	DataSources  int64 `json:"data_sources"`
	Files        int64 `json:"files"`
	Analyzed     int64 `json:"analyzed_files"`
	HashSets     int64 `json:"hash_sets"`
	HashHits     int64 `json:"hash_hits"`
	Tags         int64 `json:"tags"`
	Reviewers    int64 `json:"reviewers"`
	SeenGroups   int64 `json:"seen_groups"`
	DatabaseSize int64 `json:"database_size_bytes"`
}

// GroupKeyJSON identifies a group on the wire.
type GroupKeyJSON struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	Scope     int64  `json:"scope,omitempty"`
}

// GroupSummary represents a group in list responses.
type GroupSummary struct {
	Key            GroupKeyJSON `json:"key"`
	DisplayName    string       `json:"display_name"`
	Size           int          `json:"size"`
	Seen           bool         `json:"seen"`
	HashHits       int64        `json:"hash_hits"`
	Uncategorized  int64        `json:"uncategorized"`
	HashHitDensity float64      `json:"hash_hit_density"`
}

// GroupDetail is a group with its member item IDs.
type GroupDetail struct {
	GroupSummary
	Members []int64 `json:"members"`
}

// GroupListResponse is the body of GET /groups.
type GroupListResponse struct {
	View   string         `json:"view"`
	Total  int            `json:"total"`
	Groups []GroupSummary `json:"groups"`
}

// ConfigResponse describes the active grouping configuration.
type ConfigResponse struct {
	GroupBy       string `json:"group_by"`
	SortBy        string `json:"sort_by"`
	SortOrder     string `json:"sort_order"`
	Scope         int64  `json:"scope,omitempty"`
	Collaborative bool   `json:"collaborative"`
	Reviewer      int64  `json:"reviewer"`
}

// SeenRequest marks a group seen or unseen. Seen defaults to true.
type SeenRequest struct {
	GroupKeyJSON
	Seen *bool `json:"seen,omitempty"`
}

// RegroupRequest changes the grouping. Empty fields keep the current value.
type RegroupRequest struct {
	GroupBy   string `json:"group_by,omitempty"`
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
	Scope     *int64 `json:"scope,omitempty"`
	Force     bool   `json:"force,omitempty"`
	Wait      bool   `json:"wait,omitempty"`
}

// RegroupResponse reports how a regroup request was handled.
type RegroupResponse struct {
	Status string         `json:"status"` // sorted, accepted, completed, cancelled
	TaskID string         `json:"task_id,omitempty"`
	Config ConfigResponse `json:"config"`
}

// ProgressResponse reports the regroup worker's progress.
type ProgressResponse struct {
	Running  bool    `json:"running"`
	Done     int     `json:"done"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// ViewStateJSON is the consumer's selection. A nil Group selects nothing.
type ViewStateJSON struct {
	Group *GroupKeyJSON `json:"group"`
	Mode  string        `json:"mode,omitempty"` // tile or slideshow
	Item  int64         `json:"item,omitempty"`
}

// CollaborativeRequest toggles collaborative seen flags.
type CollaborativeRequest struct {
	Enabled bool `json:"enabled"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// regroupWaitLimit bounds how long a waiting regroup request blocks.
const regroupWaitLimit = 50 * time.Second

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// decodeBody decodes a JSON body; an empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func keyJSON(k grouping.GroupKey) GroupKeyJSON {
	return GroupKeyJSON{Attribute: string(k.Attribute), Value: k.Value, Scope: int64(k.Scope)}
}

func (k GroupKeyJSON) groupKey() (grouping.GroupKey, error) {
	return grouping.ParseGroupKey(k.Attribute, k.Value, grouping.ScopeID(k.Scope))
}

func summary(info grouping.GroupInfo) GroupSummary {
	s := GroupSummary{
		Key:           keyJSON(info.Key),
		DisplayName:   info.DisplayName,
		Size:          info.Size,
		Seen:          info.Seen,
		HashHits:      info.HashHits,
		Uncategorized: info.Uncategorized,
	}
	if info.Size > 0 {
		s.HashHitDensity = float64(info.HashHits) / float64(info.Size)
	}
	return s
}

func configResponse(cfg grouping.GroupConfig, reviewer grouping.ReviewerID) ConfigResponse {
	return ConfigResponse{
		GroupBy:       string(cfg.Attribute),
		SortBy:        cfg.SortBy.Name(),
		SortOrder:     cfg.Order.String(),
		Scope:         int64(cfg.Scope),
		Collaborative: cfg.Collaborative,
		Reviewer:      int64(reviewer),
	}
}

func (s *Server) requireGroups(w http.ResponseWriter) bool {
	if s.groups == nil {
		writeError(w, http.StatusServiceUnavailable, "groups_unavailable", "Group manager not available")
		return false
	}
	return true
}

// handleStats returns catalog statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		DataSources:  stats.DataSourceCount,
		Files:        stats.FileCount,
		Analyzed:     stats.AnalyzedCount,
		HashSets:     stats.HashSetCount,
		HashHits:     stats.HashHitCount,
		Tags:         stats.TagCount,
		Reviewers:    stats.ReviewerCount,
		SeenGroups:   stats.SeenGroupCount,
		DatabaseSize: stats.DatabaseSize,
	})
}

// handleConfig returns the active grouping configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	writeJSON(w, http.StatusOK, configResponse(s.groups.Config(), s.groups.Reviewer()))
}

// handleListGroups returns one of the two views in display order.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	view := strings.ToLower(r.URL.Query().Get("view"))
	var infos []grouping.GroupInfo
	switch grouping.ViewName(view) {
	case "", grouping.AnalyzedView:
		view = string(grouping.AnalyzedView)
		infos = s.groups.AnalyzedGroups(r.Context())
	case grouping.UnseenView:
		infos = s.groups.UnseenGroups(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "invalid_view", "view must be analyzed or unseen")
		return
	}

	groups := make([]GroupSummary, len(infos))
	for i, info := range infos {
		groups[i] = summary(info)
	}
	writeJSON(w, http.StatusOK, GroupListResponse{View: view, Total: len(groups), Groups: groups})
}

func parseKeyQuery(r *http.Request) (grouping.GroupKey, error) {
	q := r.URL.Query()
	var scope int64
	if sc := q.Get("scope"); sc != "" {
		v, err := strconv.ParseInt(sc, 10, 64)
		if err != nil {
			return grouping.GroupKey{}, errors.New("scope must be a number")
		}
		scope = v
	}
	return GroupKeyJSON{Attribute: q.Get("attribute"), Value: q.Get("value"), Scope: scope}.groupKey()
}

// handleGetGroup returns one registered group with its members.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	key, err := parseKeyQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_group", err.Error())
		return
	}
	info, ok := s.groups.Group(r.Context(), key)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Group not found")
		return
	}
	members := make([]int64, len(info.Members))
	for i, id := range info.Members {
		members[i] = int64(id)
	}
	writeJSON(w, http.StatusOK, GroupDetail{GroupSummary: summary(info), Members: members})
}

// handleMarkSeen marks a group seen or unseen and waits for the write.
func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	var req SeenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key, err := req.groupKey()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_group", err.Error())
		return
	}
	seen := req.Seen == nil || *req.Seen

	h := s.groups.MarkGroupSeen
	if !seen {
		h = s.groups.MarkGroupUnseen
	}
	if err := h(key).Wait(r.Context()); err != nil {
		s.logger.Error("failed to mark group", "group", key.String(), "seen", seen, "error", err)
		writeError(w, http.StatusInternalServerError, "seen_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"group": keyJSON(key),
		"seen":  seen,
	})
}

// handleRegroup changes grouping and sorting. A sort-only change applies
// synchronously; otherwise a task is queued and, with wait, awaited.
func (s *Server) handleRegroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	var req RegroupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg := s.groups.Config()
	attr, sortBy, order, scope := cfg.Attribute, cfg.SortBy, cfg.Order, cfg.Scope
	var err error
	if req.GroupBy != "" {
		if attr, err = grouping.ParseAttribute(req.GroupBy); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_group_by", err.Error())
			return
		}
	}
	if req.SortBy != "" {
		if sortBy, err = grouping.ParseSortBy(req.SortBy); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_sort_by", err.Error())
			return
		}
	}
	if req.SortOrder != "" {
		if order, err = grouping.ParseSortOrder(req.SortOrder); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_sort_order", err.Error())
			return
		}
	}
	if req.Scope != nil {
		scope = grouping.ScopeID(*req.Scope)
	}

	task := s.groups.Regroup(scope, attr, sortBy, order, req.Force)
	resp := RegroupResponse{Status: "sorted"}
	status := http.StatusOK
	if task != nil {
		resp.TaskID = task.ID
		resp.Status = "accepted"
		status = http.StatusAccepted
		if req.Wait {
			ctx, cancel := context.WithTimeout(r.Context(), regroupWaitLimit)
			err := task.Wait(ctx)
			cancel()
			switch {
			case err == nil:
				resp.Status, status = "completed", http.StatusOK
			case errors.Is(err, grouping.ErrCancelled):
				resp.Status, status = "cancelled", http.StatusOK
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				// Still running; report it as accepted.
			default:
				s.logger.Error("regroup failed", "task", task.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "regroup_error", err.Error())
				return
			}
		}
		s.logger.Info("regroup requested via API", "task", task.ID, "group_by", attr, "scope", scope, "force", req.Force)
	}
	resp.Config = configResponse(s.groups.Config(), s.groups.Reviewer())
	writeJSON(w, status, resp)
}

// handleProgress returns the regroup worker's progress.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	p := s.groups.Progress()
	writeJSON(w, http.StatusOK, ProgressResponse{
		Running:  p.Running,
		Done:     p.Done,
		Total:    p.Total,
		Fraction: p.Fraction(),
		Message:  p.Message,
	})
}

func viewStateJSON(vs grouping.GroupViewState) ViewStateJSON {
	if vs.IsNothing() {
		return ViewStateJSON{}
	}
	k := keyJSON(*vs.Group)
	return ViewStateJSON{Group: &k, Mode: vs.Mode.String(), Item: int64(vs.Slideshow)}
}

// handleGetViewState returns the consumer's current selection.
func (s *Server) handleGetViewState(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	writeJSON(w, http.StatusOK, viewStateJSON(s.groups.ViewState()))
}

// handleSetViewState replaces the consumer's selection.
func (s *Server) handleSetViewState(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	var req ViewStateJSON
	if !decodeBody(w, r, &req) {
		return
	}

	vs := grouping.NothingView()
	if req.Group != nil {
		key, err := req.Group.groupKey()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_group", err.Error())
			return
		}
		switch req.Mode {
		case "", "tile":
			vs = grouping.TileView(key)
		case "slideshow":
			vs = grouping.SlideshowView(key, grouping.ItemID(req.Item))
		default:
			writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be tile or slideshow")
			return
		}
	}
	s.groups.SetViewState(vs)
	writeJSON(w, http.StatusOK, viewStateJSON(s.groups.ViewState()))
}

// handleSetCollaborative switches seen flags between this reviewer and
// any reviewer.
func (s *Server) handleSetCollaborative(w http.ResponseWriter, r *http.Request) {
	if !s.requireGroups(w) {
		return
	}
	var req CollaborativeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.groups.SetCollaborative(r.Context(), req.Enabled)
	writeJSON(w, http.StatusOK, configResponse(s.groups.Config(), s.groups.Reviewer()))
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusResponse{Jobs: []JobStatus{}})
		return
	}
	statuses := s.scheduler.Status()
	if statuses == nil {
		statuses = []JobStatus{}
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running: s.scheduler.IsRunning(),
		Jobs:    statuses,
	})
}

// handleTriggerJob runs a scheduled job now.
func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not running")
		return
	}
	name := chi.URLParam(r, "name")
	if !s.scheduler.IsScheduled(name) {
		writeError(w, http.StatusNotFound, "not_found", "No job named "+name)
		return
	}
	if err := s.scheduler.TriggerJob(name); err != nil {
		s.logger.Error("failed to trigger job", "job", name, "error", err)
		writeError(w, http.StatusConflict, "job_error", err.Error())
		return
	}

	s.logger.Info("job triggered via API", "job", name)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Started " + name,
	})
}
