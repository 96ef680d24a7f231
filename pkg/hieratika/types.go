package hieratika

import (
	"fmt"
	"strings"
)

// User is the identity returned by Login. Token authenticates every
// subsequent request and the event stream.
type User struct {
	Username string   `json:"username"`
	Name     string   `json:"name,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Token    string   `json:"token,omitempty"`
}

// Page is a configuration page. Its name doubles as the configuration name
// that schedules and variables belong to.
type Page struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Schedule is a named, server-stored set of variable values.
type Schedule struct {
	UID           string   `json:"uid"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Owner         string   `json:"owner"`
	PageName      string   `json:"pageName"`
	Inheritable   bool     `json:"inheritable,omitempty"`
	Obsolete      bool     `json:"obsolete,omitempty"`
	ParentFolders []string `json:"parentFolders,omitempty"`
}

// Validate checks the fields a schedule must carry to be addressable.
func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.UID) == "" {
		return fmt.Errorf("schedule uid cannot be empty")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schedule name cannot be empty")
	}
	return nil
}

// ScheduleFolder groups schedules of a user inside a page.
type ScheduleFolder struct {
	Name          string   `json:"name"`
	ParentFolders []string `json:"parentFolders,omitempty"`
	Obsolete      bool     `json:"obsolete,omitempty"`
}

// Library is a reusable, typed group of variable values.
type Library struct {
	UID         string `json:"uid"`
	Type        string `json:"htype"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Description string `json:"description,omitempty"`
	Locked      bool   `json:"locked,omitempty"`
	Obsolete    bool   `json:"obsolete,omitempty"`
}

// Validation is a predicate attached to a variable by the server. Fun names a
// built-in check (checkMin, checkMax, checkType) or holds a constraint
// expression referencing variables by quoted name, e.g. 'a' < 'b'.
type Validation struct {
	Fun         string `json:"fun"`
	Parameters  []any  `json:"parameters,omitempty"`
	Description string `json:"description,omitempty"`
}

// LibraryBinding describes the library a library-typed variable selects from.
type LibraryBinding struct {
	Type     string            `json:"type"`
	Mappings map[string]string `json:"mappings,omitempty"`
}

// VariableInfo is the metadata (and current value) of a plant variable.
type VariableInfo struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
	// Type is one of uint8 ... int64, float32, float64, string, enum, library.
	Type string `json:"type"`
	// NumberOfElements holds the element count along each dimension.
	NumberOfElements []int  `json:"numberOfElements"`
	Description      string `json:"description,omitempty"`
	// Permissions lists the groups allowed to write the variable.
	Permissions    []string                 `json:"permissions,omitempty"`
	Value          any                      `json:"value"`
	IsLiveVariable bool                     `json:"isLiveVariable,omitempty"`
	IsLibrary      bool                     `json:"isLibrary,omitempty"`
	Library        *LibraryBinding          `json:"library,omitempty"`
	Validation     []Validation             `json:"validation,omitempty"`
	Members        map[string]*VariableInfo `json:"members,omitempty"`
}

// IsStruct reports whether the variable has member variables.
func (v *VariableInfo) IsStruct() bool {
	return len(v.Members) > 0
}

// CanWrite reports whether a user belonging to groups may change the variable.
// A variable without permissions is writable by anyone.
func (v *VariableInfo) CanWrite(groups []string) bool {
	if len(v.Permissions) == 0 {
		return true
	}
	for _, p := range v.Permissions {
		for _, g := range groups {
			if p == g {
				return true
			}
		}
	}
	return false
}

// TransformationInfo describes a transformation function offered for a page.
type TransformationInfo struct {
	Fun         string   `json:"fun"`
	Description string   `json:"description,omitempty"`
	Inputs      []string `json:"inputs,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
}

// Statistics is the per-endpoint performance report kept by the server.
type Statistics map[string]any

// Values maps variable names to values.
type Values map[string]any
