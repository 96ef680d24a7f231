package hieratika

import (
	"context"
	"net/url"
)

// UpdatePlant sets variables as the values to be loaded into the plant for a
// page. Successfully updated variables are streamed to every client.
func (c *Client) UpdatePlant(ctx context.Context, pageName string, variables Values) error {
	encoded, err := encodeJSON(variables)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("tid", c.Tid())
	form.Set("pageName", pageName)
	form.Set("variables", encoded)
	reply, err := c.call(ctx, PathUpdatePlant, form, false)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// UpdatePlantFromSchedule copies every value of a schedule into the plant.
func (c *Client) UpdatePlantFromSchedule(ctx context.Context, pageName, scheduleUID string) error {
	form := url.Values{}
	form.Set("tid", c.Tid())
	form.Set("pageName", pageName)
	form.Set("scheduleUID", scheduleUID)
	reply, err := c.call(ctx, PathUpdatePlantFromSchedule, form, false)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// LoadIntoPlant asks the server to load the configuration of the given pages
// into the physical plant.
func (c *Client) LoadIntoPlant(ctx context.Context, pageNames ...string) error {
	if pageNames == nil {
		pageNames = []string{}
	}
	encoded, err := encodeJSON(pageNames)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("pageNames", encoded)
	reply, err := c.call(ctx, PathLoadIntoPlant, form, false)
	if err != nil {
		return err
	}
	return expectOK(reply)
}
