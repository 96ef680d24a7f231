package hieratika

import (
	"context"
	"fmt"
	"net/url"
)

// SaveLibraryRequest describes a library to create or overwrite.
type SaveLibraryRequest struct {
	Type        string
	Name        string
	Description string
	Username    string
	Variables   Values
}

// GetLibraries lists the libraries of a type owned by username.
func (c *Client) GetLibraries(ctx context.Context, libraryType, username string) ([]Library, error) {
	form := url.Values{}
	form.Set("type", libraryType)
	form.Set("username", username)
	reply, err := c.call(ctx, PathGetLibraries, form, false)
	if err != nil {
		return nil, err
	}
	var libraries []Library
	if err := decode(PathGetLibraries, reply, &libraries); err != nil {
		return nil, err
	}
	return libraries, nil
}

// GetLibraryVariablesValues fetches the values stored in a library.
func (c *Client) GetLibraryVariablesValues(ctx context.Context, libraryUID string) (Values, error) {
	form := url.Values{}
	form.Set("libraryUID", libraryUID)
	reply, err := c.call(ctx, PathGetLibraryValues, form, false)
	if err != nil {
		return nil, err
	}
	values := Values{}
	if err := decode(PathGetLibraryValues, reply, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// SaveLibrary creates or overwrites a library and returns it as stored.
// ErrInUse means the library is referenced by a schedule.
func (c *Client) SaveLibrary(ctx context.Context, req SaveLibraryRequest) (*Library, error) {
	if req.Type == "" || req.Name == "" {
		return nil, fmt.Errorf("library type and name cannot be empty")
	}
	variables := req.Variables
	if variables == nil {
		variables = Values{}
	}
	encoded, err := encodeJSON(variables)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("type", req.Type)
	form.Set("name", req.Name)
	form.Set("description", req.Description)
	form.Set("username", req.Username)
	form.Set("variables", encoded)

	reply, err := c.call(ctx, PathSaveLibrary, form, false)
	if err != nil {
		return nil, err
	}
	var library Library
	if err := decode(PathSaveLibrary, reply, &library); err != nil {
		return nil, err
	}
	return &library, nil
}

func (c *Client) libraryOp(ctx context.Context, path, libraryUID string) error {
	form := url.Values{}
	form.Set("libraryUID", libraryUID)
	reply, err := c.call(ctx, path, form, false)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// DeleteLibrary deletes a library. ErrInUse means a schedule still uses it.
func (c *Client) DeleteLibrary(ctx context.Context, libraryUID string) error {
	return c.libraryOp(ctx, PathDeleteLibrary, libraryUID)
}

// ObsoleteLibrary marks a library obsolete.
func (c *Client) ObsoleteLibrary(ctx context.Context, libraryUID string) error {
	return c.libraryOp(ctx, PathObsoleteLibrary, libraryUID)
}
