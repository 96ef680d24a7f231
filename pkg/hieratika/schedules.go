package hieratika

import (
	"context"
	"fmt"
	"net/url"
)

// FolderPath locates a schedule folder: the page it belongs to, the owner
// and the chain of parent folders from the root.
type FolderPath struct {
	PageName      string
	Username      string
	ParentFolders []string
}

func (p FolderPath) form() (url.Values, error) {
	parents := p.ParentFolders
	if parents == nil {
		parents = []string{}
	}
	encoded, err := encodeJSON(parents)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("pageName", p.PageName)
	form.Set("username", p.Username)
	form.Set("parentFolders", encoded)
	return form, nil
}

// CreateScheduleRequest describes a schedule to create. When SourceScheduleUID
// is empty the new schedule is copied from the plant.
type CreateScheduleRequest struct {
	Name              string
	Description       string
	Folder            FolderPath
	SourceScheduleUID string
	// InheritFromSchedule hard-links the new schedule to its source, which
	// then can be neither modified nor deleted while the link exists.
	InheritFromSchedule bool
}

// GetScheduleFolders lists the folders below path.
func (c *Client) GetScheduleFolders(ctx context.Context, path FolderPath) ([]ScheduleFolder, error) {
	form, err := path.form()
	if err != nil {
		return nil, err
	}
	reply, err := c.call(ctx, PathGetScheduleFolders, form, false)
	if err != nil {
		return nil, err
	}
	var folders []ScheduleFolder
	if err := decode(PathGetScheduleFolders, reply, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// GetSchedules lists the schedules stored directly in path.
func (c *Client) GetSchedules(ctx context.Context, path FolderPath) ([]Schedule, error) {
	form, err := path.form()
	if err != nil {
		return nil, err
	}
	reply, err := c.call(ctx, PathGetSchedules, form, false)
	if err != nil {
		return nil, err
	}
	var schedules []Schedule
	if err := decode(PathGetSchedules, reply, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

// GetSchedule fetches one schedule by UID.
func (c *Client) GetSchedule(ctx context.Context, scheduleUID string) (*Schedule, error) {
	form := url.Values{}
	form.Set("scheduleUID", scheduleUID)
	reply, err := c.call(ctx, PathGetSchedule, form, false)
	if err != nil {
		return nil, err
	}
	var schedule Schedule
	if err := decode(PathGetSchedule, reply, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// GetScheduleVariablesValues fetches every stored variable value of a schedule.
func (c *Client) GetScheduleVariablesValues(ctx context.Context, scheduleUID string) (Values, error) {
	form := url.Values{}
	form.Set("scheduleUID", scheduleUID)
	reply, err := c.call(ctx, PathGetScheduleValues, form, false)
	if err != nil {
		return nil, err
	}
	values := Values{}
	if err := decode(PathGetScheduleValues, reply, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// CreateSchedule creates a schedule and returns its UID.
func (c *Client) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (string, error) {
	if req.Name == "" {
		return "", fmt.Errorf("schedule name cannot be empty")
	}
	form, err := req.Folder.form()
	if err != nil {
		return "", err
	}
	form.Set("name", req.Name)
	form.Set("description", req.Description)
	if req.SourceScheduleUID != "" {
		form.Set("sourceScheduleUID", req.SourceScheduleUID)
	}
	if req.InheritFromSchedule {
		form.Set("inheritFromSchedule", "true")
	} else {
		form.Set("inheritFromSchedule", "false")
	}

	reply, err := c.call(ctx, PathCreateSchedule, form, false)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", ErrEmptyReply
	}
	if err := codeError(reply); err != nil {
		return "", err
	}
	return reply, nil
}

func (c *Client) folderOp(ctx context.Context, path, name string, folder FolderPath) error {
	form, err := folder.form()
	if err != nil {
		return err
	}
	form.Set("name", name)
	reply, err := c.call(ctx, path, form, false)
	if err != nil {
		return err
	}
	return expectAccepted(reply)
}

// CreateScheduleFolder creates folder name inside path.
func (c *Client) CreateScheduleFolder(ctx context.Context, name string, path FolderPath) error {
	return c.folderOp(ctx, PathCreateScheduleFolder, name, path)
}

// DeleteScheduleFolder deletes folder name inside path.
func (c *Client) DeleteScheduleFolder(ctx context.Context, name string, path FolderPath) error {
	return c.folderOp(ctx, PathDeleteScheduleFolder, name, path)
}

// ObsoleteScheduleFolder marks folder name inside path as obsolete.
func (c *Client) ObsoleteScheduleFolder(ctx context.Context, name string, path FolderPath) error {
	return c.folderOp(ctx, PathObsoleteScheduleFolder, name, path)
}

func (c *Client) scheduleOp(ctx context.Context, path, scheduleUID string) error {
	form := url.Values{}
	form.Set("scheduleUID", scheduleUID)
	reply, err := c.call(ctx, path, form, false)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// DeleteSchedules deletes the schedules one request at a time, in order,
// stopping at the first failure. The returned error names the failing UID.
func (c *Client) DeleteSchedules(ctx context.Context, scheduleUIDs ...string) error {
	for _, uid := range scheduleUIDs {
		if err := c.scheduleOp(ctx, PathDeleteSchedule, uid); err != nil {
			return fmt.Errorf("schedule %s: %w", uid, err)
		}
	}
	return nil
}

// ObsoleteSchedules marks the schedules obsolete one request at a time,
// stopping at the first failure.
func (c *Client) ObsoleteSchedules(ctx context.Context, scheduleUIDs ...string) error {
	for _, uid := range scheduleUIDs {
		if err := c.scheduleOp(ctx, PathObsoleteSchedule, uid); err != nil {
			return fmt.Errorf("schedule %s: %w", uid, err)
		}
	}
	return nil
}

func (c *Client) scheduleValuesOp(ctx context.Context, path, scheduleUID string, variables Values) error {
	encoded, err := encodeJSON(variables)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("tid", c.Tid())
	form.Set("scheduleUID", scheduleUID)
	form.Set("variables", encoded)
	reply, err := c.call(ctx, path, form, false)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// UpdateSchedule tells the other users of a schedule that variables changed.
// The values are streamed but not stored; CommitSchedule stores them.
func (c *Client) UpdateSchedule(ctx context.Context, scheduleUID string, variables Values) error {
	return c.scheduleValuesOp(ctx, PathUpdateSchedule, scheduleUID, variables)
}

// CommitSchedule permanently stores variables in a schedule. ErrInUse means
// another schedule inherits from this one and it cannot be overwritten.
func (c *Client) CommitSchedule(ctx context.Context, scheduleUID string, variables Values) error {
	return c.scheduleValuesOp(ctx, PathCommitSchedule, scheduleUID, variables)
}
