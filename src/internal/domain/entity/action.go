// Package entity defines the DDI wire types exchanged between a simulated device and the update server.
package entity

import "time"

// Link is a single hypermedia reference.
type Link struct {
	Href string `json:"href"`
}

// Links maps a link name to its reference.
type Links map[string]Link

// Href returns the URL for name and whether the link is present.
func (l Links) Href(name string) (string, bool) {
	link, ok := l[name]
	if !ok || link.Href == "" {
		return "", false
	}
	return link.Href, true
}

// Link names advertised by the poll endpoint.
const (
	LinkConfigData       = "configData"
	LinkDeploymentBase   = "deploymentBase"
	LinkCancelAction     = "cancelAction"
	LinkConfirmationBase = "confirmationBase"
	LinkInstalledBase    = "installedBase"
)

// Polling carries the server-advertised sleep between polls ("HH:MM:SS").
type Polling struct {
	Sleep string `json:"sleep"`
}

// ControllerConfig is the config section of the poll response.
type ControllerConfig struct {
	Polling Polling `json:"polling"`
}

// ControllerBase is the poll response.
type ControllerBase struct {
	Config ControllerConfig `json:"config"`
	Links  Links            `json:"_links"`
}

// Hashes holds the content hashes of an artifact.
type Hashes struct {
	SHA1   string `json:"sha1,omitempty"`
	MD5    string `json:"md5,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

// Artifact is one downloadable file of a software module.
type Artifact struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Hashes   Hashes `json:"hashes"`
	Links    Links  `json:"_links,omitempty"`
}

// Chunk is a named, versioned artifact group of one software module.
type Chunk struct {
	Part      string     `json:"part"`
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	Artifacts []Artifact `json:"artifacts"`
}

// Deployment describes the handling modes and chunks of an update action.
type Deployment struct {
	Download string  `json:"download,omitempty"`
	Update   string  `json:"update,omitempty"`
	Chunks   []Chunk `json:"chunks"`
}

// ActionHistory is the server-side message trail of an action.
type ActionHistory struct {
	Status   string   `json:"status,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

// DeploymentBase is one update action.
type DeploymentBase struct {
	ID            string         `json:"id"`
	Deployment    Deployment     `json:"deployment"`
	ActionHistory *ActionHistory `json:"actionHistory,omitempty"`
}

// StopAction names the action being cancelled.
type StopAction struct {
	StopID string `json:"stopId"`
}

// CancelAction is the cancel request for a prior action.
type CancelAction struct {
	ID           string     `json:"id"`
	CancelAction StopAction `json:"cancelAction"`
}

// AutoConfirmStatus reports whether server-side auto-confirmation is active.
type AutoConfirmStatus struct {
	Active    bool   `json:"active"`
	Initiator string `json:"initiator,omitempty"`
	Remark    string `json:"remark,omitempty"`
}

// ConfirmationBase describes pending confirmation requests.
type ConfirmationBase struct {
	AutoConfirm AutoConfirmStatus `json:"autoConfirm"`
	Links       Links             `json:"_links"`
}

// ConfirmationAction is one action awaiting confirmation.
type ConfirmationAction struct {
	ID            string         `json:"id"`
	Confirmation  Deployment     `json:"confirmation"`
	ActionHistory *ActionHistory `json:"actionHistory,omitempty"`
}

// ConfigDataMode controls how the server applies pushed attributes.
type ConfigDataMode string

// Config data modes.
const (
	ConfigDataMerge   ConfigDataMode = "merge"
	ConfigDataReplace ConfigDataMode = "replace"
	ConfigDataRemove  ConfigDataMode = "remove"
)

// Valid reports whether m is a mode the server accepts.
func (m ConfigDataMode) Valid() bool {
	switch m {
	case ConfigDataMerge, ConfigDataReplace, ConfigDataRemove:
		return true
	}
	return false
}

// ConfigData is the body of a configData push.
type ConfigData struct {
	Mode ConfigDataMode    `json:"mode"`
	Data map[string]string `json:"data"`
}

// AutoConfirmRequest is the optional body of activateAutoConfirm.
type AutoConfirmRequest struct {
	Initiator string `json:"initiator,omitempty"`
	Remark    string `json:"remark,omitempty"`
}

// Target is the management-side device record returned by bootstrap.
type Target struct {
	ControllerID  string `json:"controllerId"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	SecurityToken string `json:"securityToken"`
	Address       string `json:"address,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
}

// CreatedTime returns the creation time of the target, if known.
func (t Target) CreatedTime() time.Time {
	if t.CreatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.CreatedAt)
}
