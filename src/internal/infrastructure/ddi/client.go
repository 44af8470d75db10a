// Package ddi binds every Direct Device Integration resource a device uses.
//
// Each method performs exactly one authenticated HTTP exchange below
// {base}/{tenant}/controller/v1/{controllerId}. Failures are logged and returned
// as rest.HTTPError, rest.TransportError or rest.RequestError; nothing is retried here.
package ddi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/rest"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/security"
)

// DefaultTimeout is the per-request timeout when none is configured.
const DefaultTimeout = 30 * time.Second

// Config describes one device's connection to the server.
type Config struct {
	BaseURL      string
	Tenant       string
	ControllerID string
	Credentials  security.Credentials
	Timeout      time.Duration
	HTTPClient   rest.HTTPDoer
	Logger       *logrus.Entry
}

// Client is the DDI binding for a single controller.
type Client struct {
	rest         *rest.Client
	controllerID string
	prefix       string
}

// NewClient builds a client. It fails when no authentication scheme can be chosen.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ddi: base URL is required")
	}
	if cfg.Tenant == "" || cfg.ControllerID == "" {
		return nil, fmt.Errorf("ddi: tenant and controller id are required")
	}
	auth, err := security.NewAuthenticator(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("ddi: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("controller_id", cfg.ControllerID)
	}
	log = log.WithField("auth", auth.Scheme())

	return &Client{
		rest:         rest.NewClient(cfg.BaseURL, cfg.HTTPClient, auth, timeout, log),
		controllerID: cfg.ControllerID,
		prefix:       "/" + url.PathEscape(cfg.Tenant) + "/controller/v1/" + url.PathEscape(cfg.ControllerID),
	}, nil
}

// ControllerID returns the controller this client speaks for.
func (c *Client) ControllerID() string {
	return c.controllerID
}

func (c *Client) path(parts ...string) string {
	p := c.prefix
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func historyQuery(actionHistory int) url.Values {
	if actionHistory == 0 {
		return nil
	}
	return url.Values{"actionHistory": {strconv.Itoa(actionHistory)}}
}

// GetControllerBase polls the root resource.
func (c *Client) GetControllerBase(ctx context.Context) (*entity.ControllerBase, error) {
	var base entity.ControllerBase
	if err := c.rest.Do(ctx, "get controller base", http.MethodGet, c.path(), nil, nil, &base); err != nil {
		return nil, err
	}
	return &base, nil
}

// GetDeploymentBase fetches an update action. actionHistory 0 omits the history.
func (c *Client) GetDeploymentBase(ctx context.Context, actionID string, actionHistory int) (*entity.DeploymentBase, error) {
	var base entity.DeploymentBase
	err := c.rest.Do(ctx, "get deployment base", http.MethodGet,
		c.path("deploymentBase", actionID), historyQuery(actionHistory), nil, &base)
	if err != nil {
		return nil, err
	}
	return &base, nil
}

// PostDeploymentFeedback reports progress of an update action.
func (c *Client) PostDeploymentFeedback(ctx context.Context, actionID string, feedback entity.ActionFeedback) error {
	return c.rest.Do(ctx, "post deployment feedback", http.MethodPost,
		c.path("deploymentBase", actionID, "feedback"), nil, feedback, nil)
}

// GetInstalledBase fetches the last successfully installed action.
func (c *Client) GetInstalledBase(ctx context.Context, actionID string, actionHistory int) (*entity.DeploymentBase, error) {
	var base entity.DeploymentBase
	err := c.rest.Do(ctx, "get installed base", http.MethodGet,
		c.path("installedBase", actionID), historyQuery(actionHistory), nil, &base)
	if err != nil {
		return nil, err
	}
	return &base, nil
}

// PutConfigData pushes device attributes.
func (c *Client) PutConfigData(ctx context.Context, data entity.ConfigData) error {
	return c.rest.Do(ctx, "put config data", http.MethodPut, c.path("configData"), nil, data, nil)
}

// GetCancelAction fetches a cancel request.
func (c *Client) GetCancelAction(ctx context.Context, actionID string) (*entity.CancelAction, error) {
	var cancel entity.CancelAction
	if err := c.rest.Do(ctx, "get cancel action", http.MethodGet, c.path("cancelAction", actionID), nil, nil, &cancel); err != nil {
		return nil, err
	}
	return &cancel, nil
}

// PostCancelFeedback answers a cancel request.
func (c *Client) PostCancelFeedback(ctx context.Context, actionID string, feedback entity.ActionFeedback) error {
	return c.rest.Do(ctx, "post cancel feedback", http.MethodPost,
		c.path("cancelAction", actionID, "feedback"), nil, feedback, nil)
}

// GetConfirmationBase fetches the confirmation overview.
func (c *Client) GetConfirmationBase(ctx context.Context) (*entity.ConfirmationBase, error) {
	var base entity.ConfirmationBase
	if err := c.rest.Do(ctx, "get confirmation base", http.MethodGet, c.path("confirmationBase"), nil, nil, &base); err != nil {
		return nil, err
	}
	return &base, nil
}

// GetConfirmationAction fetches one action awaiting confirmation.
func (c *Client) GetConfirmationAction(ctx context.Context, actionID string) (*entity.ConfirmationAction, error) {
	var action entity.ConfirmationAction
	err := c.rest.Do(ctx, "get confirmation action", http.MethodGet,
		c.path("confirmationBase", actionID), nil, nil, &action)
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// PostConfirmationFeedback confirms or denies an action.
func (c *Client) PostConfirmationFeedback(ctx context.Context, actionID string, feedback entity.ConfirmationFeedback) error {
	return c.rest.Do(ctx, "post confirmation feedback", http.MethodPost,
		c.path("confirmationBase", actionID, "feedback"), nil, feedback, nil)
}

// ActivateAutoConfirmation turns on server-side auto-confirmation. req may be nil.
func (c *Client) ActivateAutoConfirmation(ctx context.Context, req *entity.AutoConfirmRequest) error {
	var body any
	if req != nil {
		body = req
	}
	return c.rest.Do(ctx, "activate auto-confirmation", http.MethodPost,
		c.path("confirmationBase", "activateAutoConfirm"), nil, body, nil)
}

// DeactivateAutoConfirmation turns off server-side auto-confirmation.
func (c *Client) DeactivateAutoConfirmation(ctx context.Context) error {
	return c.rest.Do(ctx, "deactivate auto-confirmation", http.MethodPost,
		c.path("confirmationBase", "deactivateAutoConfirm"), nil, nil, nil)
}

// GetArtifacts lists the artifacts of a software module.
func (c *Client) GetArtifacts(ctx context.Context, moduleID string) ([]entity.Artifact, error) {
	var artifacts []entity.Artifact
	err := c.rest.Do(ctx, "get artifacts", http.MethodGet,
		c.path("softwaremodules", moduleID, "artifacts"), nil, nil, &artifacts)
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// DownloadArtifact streams an artifact. The caller closes the returned body.
func (c *Client) DownloadArtifact(ctx context.Context, moduleID, filename string) (io.ReadCloser, error) {
	return c.rest.Stream(ctx, "download artifact", c.path("softwaremodules", moduleID, "artifacts", filename))
}
