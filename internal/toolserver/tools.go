package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/taskseries/internal/domain"
)

var (
	idProp      = Property{Type: "integer", Description: "Task, series or instance ID"}
	stringList  = &Property{Type: "string"}
	seriesProps = map[string]Property{
		"title":       {Type: "string", Description: "Task title"},
		"description": {Type: "string", Description: "Task description"},
		"assignees":   {Type: "array", Description: "Assignee names or emails", Items: stringList},
		"start_at":    {Type: "string", Description: "Template start, RFC 3339 or YYYY-MM-DDTHH:MM"},
		"end_at":      {Type: "string", Description: "Template end, same format as start_at"},
		"frequency":   {Type: "string", Description: "Repetition", Enum: []string{"daily", "weekly", "monthly"}},
		"weekdays":    {Type: "array", Description: "Weekly rules: monday..sunday", Items: stringList},
		"month_days":  {Type: "array", Description: "Monthly rules: days 1..31", Items: &Property{Type: "integer"}},
		"series_end":  {Type: "string", Description: "Last moment of the series, RFC 3339 or YYYY-MM-DD"},
	}
)

var tools = []Tool{
	{
		Name:        "create_series",
		Description: "Create a recurring task series and materialize instances up to the horizon.",
		InputSchema: InputSchema{
			Type:       "object",
			Properties: seriesProps,
			Required:   []string{"title", "start_at", "frequency", "series_end"},
		},
	},
	{
		Name:        "update_series",
		Description: "Replace a series' template and rule. All instances are regenerated.",
		InputSchema: InputSchema{
			Type:       "object",
			Properties: withID(seriesProps),
			Required:   []string{"id", "title", "start_at", "frequency", "series_end"},
		},
	},
	{
		Name:        "pause_series",
		Description: "Stop generating instances for a series. Existing instances are kept.",
		InputSchema: idSchema(),
	},
	{
		Name:        "resume_series",
		Description: "Reactivate a paused series and fill the current window.",
		InputSchema: idSchema(),
	},
	{
		Name:        "delete_series",
		Description: "Delete a series with its instances, or a single instance or task by its ID.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"id":      idProp,
				"cascade": {Type: "boolean", Description: "Delete instances too (always true for series)"},
			},
			Required: []string{"id"},
		},
	},
	{
		Name:        "get_series",
		Description: "Show a series and its rule.",
		InputSchema: idSchema(),
	},
	{
		Name:        "list_series",
		Description: "List series.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"active_only": {Type: "boolean", Description: "Skip paused series"},
			},
		},
	},
	{
		Name:        "list_instances",
		Description: "List a series' instances by start time.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"id":           idProp,
				"overdue_only": {Type: "boolean", Description: "Only instances that are overdue now"},
			},
			Required: []string{"id"},
		},
	},
	{
		Name:        "set_instance_status",
		Description: "Record progress on one instance.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"id":     idProp,
				"status": {Type: "string", Enum: []string{"pending", "in_progress", "completed"}},
			},
			Required: []string{"id", "status"},
		},
	},
	{
		Name:        "create_task",
		Description: "Create a standalone, non-recurring task.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"title":    seriesProps["title"],
				"start_at": seriesProps["start_at"],
				"end_at":   seriesProps["end_at"],
			},
			Required: []string{"title", "start_at"},
		},
	},
	{
		Name:        "set_task_status",
		Description: "Record progress on a standalone task.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"id":     idProp,
				"status": {Type: "string", Enum: []string{"pending", "in_progress", "completed"}},
			},
			Required: []string{"id", "status"},
		},
	},
	{
		Name:        "is_overdue",
		Description: "Check whether a task, series or instance is overdue now.",
		InputSchema: idSchema(),
	},
	{
		Name:        "export_ics",
		Description: "Render a series as iCalendar text.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"id":        idProp,
				"instances": {Type: "boolean", Description: "One event per stored instance instead of an RRULE"},
			},
			Required: []string{"id"},
		},
	},
}

func idSchema() InputSchema {
	return InputSchema{
		Type:       "object",
		Properties: map[string]Property{"id": idProp},
		Required:   []string{"id"},
	}
}

func withID(props map[string]Property) map[string]Property {
	out := make(map[string]Property, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["id"] = idProp
	return out
}

// flexID accepts both 12 and "12".
type flexID int64

func (id *flexID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = flexID(n)
	return nil
}

type toolArgs struct {
	ID          flexID   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Assignees   []string `json:"assignees"`
	StartAt     string   `json:"start_at"`
	EndAt       string   `json:"end_at"`
	Frequency   string   `json:"frequency"`
	Weekdays    []string `json:"weekdays"`
	MonthDays   []int    `json:"month_days"`
	SeriesEnd   string   `json:"series_end"`
	Cascade     *bool    `json:"cascade"`
	ActiveOnly  bool     `json:"active_only"`
	OverdueOnly bool     `json:"overdue_only"`
	Instances   bool     `json:"instances"`
	Status      string   `json:"status"`
}

func (s *Server) callTool(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	var args toolArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	id := int64(args.ID)

	switch name {
	case "create_series":
		tmpl, spec, err := s.parseSeries(args)
		if err != nil {
			return "", err
		}
		series, instances, err := s.series.Create(ctx, tmpl, spec)
		if err != nil {
			return "", err
		}
		return render(seriesResult{Series: s.seriesView(series), Instances: s.instanceViews(instances)})

	case "update_series":
		tmpl, spec, err := s.parseSeries(args)
		if err != nil {
			return "", err
		}
		series, instances, err := s.series.Update(ctx, id, tmpl, spec)
		if err != nil {
			return "", err
		}
		return render(seriesResult{Series: s.seriesView(series), Instances: s.instanceViews(instances)})

	case "pause_series":
		series, err := s.series.Pause(ctx, id)
		if err != nil {
			return "", err
		}
		return render(seriesResult{Series: s.seriesView(series)})

	case "resume_series":
		series, instances, err := s.series.Resume(ctx, id)
		if err != nil {
			return "", err
		}
		return render(seriesResult{Series: s.seriesView(series), Instances: s.instanceViews(instances)})

	case "delete_series":
		cascade := args.Cascade == nil || *args.Cascade
		if err := s.series.Delete(ctx, id, cascade); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted %d", id), nil

	case "get_series":
		series, err := s.series.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return render(s.seriesView(series))

	case "list_series":
		list, err := s.series.List(ctx, args.ActiveOnly)
		if err != nil {
			return "", err
		}
		views := make([]seriesView, 0, len(list))
		for _, series := range list {
			views = append(views, s.seriesView(series))
		}
		return render(views)

	case "list_instances":
		var (
			list []*domain.Instance
			err  error
		)
		if args.OverdueOnly {
			list, err = s.series.ListOverdue(ctx, id)
		} else {
			list, err = s.series.ListInstances(ctx, id)
		}
		if err != nil {
			return "", err
		}
		return render(s.instanceViews(list))

	case "set_instance_status":
		if err := s.series.SetInstanceStatus(ctx, id, domain.TaskStatus(args.Status)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Instance %d is %s", id, args.Status), nil

	case "create_task":
		start, err := s.parseTime("start_at", args.StartAt)
		if err != nil {
			return "", err
		}
		var end time.Time
		if args.EndAt != "" {
			if end, err = s.parseTime("end_at", args.EndAt); err != nil {
				return "", err
			}
		}
		task, err := s.tasks.Create(ctx, args.Title, start, end)
		if err != nil {
			return "", err
		}
		return render(map[string]interface{}{
			"id":       task.ID,
			"title":    task.Title,
			"start_at": s.format(task.StartAt),
			"end_at":   s.format(task.EndAt),
			"status":   task.Status,
		})

	case "set_task_status":
		if err := s.tasks.SetStatus(ctx, id, domain.TaskStatus(args.Status)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Task %d is %s", id, args.Status), nil

	case "is_overdue":
		overdue, err := s.tasks.IsOverdue(ctx, id)
		if err != nil {
			return "", err
		}
		return render(map[string]interface{}{"id": id, "overdue": overdue})

	case "export_ics":
		if s.calendar == nil {
			return "", errors.New("calendar export unavailable")
		}
		data, err := s.calendar.ExportICS(ctx, id, args.Instances)
		if err != nil {
			return "", err
		}
		return string(data), nil

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) parseSeries(args toolArgs) (domain.Template, domain.RuleSpec, error) {
	start, err := s.parseTime("start_at", args.StartAt)
	if err != nil {
		return domain.Template{}, domain.RuleSpec{}, err
	}
	var end time.Time
	if args.EndAt != "" {
		if end, err = s.parseTime("end_at", args.EndAt); err != nil {
			return domain.Template{}, domain.RuleSpec{}, err
		}
	}
	seriesEnd, err := s.parseTime("series_end", args.SeriesEnd)
	if err != nil {
		return domain.Template{}, domain.RuleSpec{}, err
	}

	tmpl := domain.Template{
		Title:       args.Title,
		Description: args.Description,
		Assignees:   args.Assignees,
		StartAt:     start,
		EndAt:       end,
	}
	spec := domain.RuleSpec{
		Frequency: domain.Frequency(strings.ToLower(strings.TrimSpace(args.Frequency))),
		Weekdays:  args.Weekdays,
		MonthDays: args.MonthDays,
		SeriesEnd: seriesEnd,
	}
	return tmpl, spec, nil
}

var timeLayouts = []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

// parseTime reads RFC 3339 or a local wall time in the server's zone. A bare
// date for series_end means the end of that day.
func (s *Server) parseTime(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, &domain.ValidationError{Field: field, Reason: "is required"}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, v, s.loc)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" && field == "series_end" {
			t = t.Add(24*time.Hour - time.Second)
		}
		return t, nil
	}
	return time.Time{}, &domain.ValidationError{Field: field, Reason: fmt.Sprintf("cannot parse %q", v)}
}

type seriesView struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Assignees []string          `json:"assignees,omitempty"`
	StartAt   string            `json:"start_at"`
	EndAt     string            `json:"end_at,omitempty"`
	Rule      domain.RuleSpec   `json:"rule"`
	Active    bool              `json:"active"`
	Status    domain.TaskStatus `json:"status"`
}

type instanceView struct {
	ID        int64             `json:"id"`
	SeriesID  int64             `json:"series_id"`
	Title     string            `json:"title"`
	Assignees []string          `json:"assignees,omitempty"`
	StartAt   string            `json:"start_at"`
	EndAt     string            `json:"end_at,omitempty"`
	Status    domain.TaskStatus `json:"status"`
}

type seriesResult struct {
	Series    seriesView     `json:"series"`
	Instances []instanceView `json:"instances,omitempty"`
}

func (s *Server) seriesView(series *domain.Series) seriesView {
	spec := series.Rule.Spec()
	spec.SeriesEnd = spec.SeriesEnd.In(s.loc)
	return seriesView{
		ID:        series.ID,
		Title:     series.Title,
		Assignees: series.Assignees,
		StartAt:   s.format(series.StartAt),
		EndAt:     s.format(series.EndAt),
		Rule:      spec,
		Active:    series.Active,
		Status:    series.Status,
	}
}

func (s *Server) instanceViews(list []*domain.Instance) []instanceView {
	views := make([]instanceView, 0, len(list))
	for _, inst := range list {
		views = append(views, instanceView{
			ID:        inst.ID,
			SeriesID:  inst.SeriesID,
			Title:     inst.Title,
			Assignees: inst.Assignees,
			StartAt:   s.format(inst.StartAt),
			EndAt:     s.format(inst.EndAt),
			Status:    inst.Status,
		})
	}
	return views
}

func (s *Server) format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(s.loc).Format(time.RFC3339)
}

func render(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render result: %w", err)
	}
	return string(data), nil
}
