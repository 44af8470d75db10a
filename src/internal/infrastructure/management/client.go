// Package management provisions device records through the management REST API.
package management

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/rest"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/security"
)

const targetsPath = "/rest/v1/targets"

// ErrEmptyResponse is returned when a create call succeeds without echoing the target.
var ErrEmptyResponse = errors.New("management: create returned no target")

// Config describes the management API connection.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	HTTPClient rest.HTTPDoer
	Logger     *logrus.Entry
}

// Client fetches and creates targets. It always authenticates with Basic credentials.
type Client struct {
	rest *rest.Client
	log  *logrus.Entry
}

// NewClient builds a management client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("management: base URL is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("management: username is required")
	}
	auth, err := security.NewAuthenticator(security.Credentials{Username: cfg.Username, Password: cfg.Password})
	if err != nil {
		return nil, fmt.Errorf("management: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "management")
	}
	return &Client{
		rest: rest.NewClient(cfg.BaseURL, cfg.HTTPClient, auth, cfg.Timeout, log),
		log:  log,
	}, nil
}

// GetTarget fetches one target by controller id.
func (c *Client) GetTarget(ctx context.Context, controllerID string) (*entity.Target, error) {
	var target entity.Target
	err := c.rest.Do(ctx, "get target", http.MethodGet,
		targetsPath+"/"+url.PathEscape(controllerID), nil, nil, &target)
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// CreateTarget registers a new target. The API accepts and returns arrays.
func (c *Client) CreateTarget(ctx context.Context, target entity.Target) (*entity.Target, error) {
	var created []entity.Target
	err := c.rest.Do(ctx, "create target", http.MethodPost, targetsPath, nil, []entity.Target{target}, &created)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, ErrEmptyResponse
	}
	return &created[0], nil
}

// GetOrCreateTarget returns the target for controllerID, creating it when the
// server does not know it. A create conflict means another caller won the
// race, so the target is fetched again.
func (c *Client) GetOrCreateTarget(ctx context.Context, controllerID, name, description string) (*entity.Target, error) {
	log := c.log.WithField("controller_id", controllerID)

	target, err := c.GetTarget(ctx, controllerID)
	if err == nil {
		log.Debug("Target already registered")
		return target, nil
	}
	if rest.StatusCode(err) != http.StatusNotFound {
		return nil, err
	}

	if name == "" {
		name = controllerID
	}
	target, err = c.CreateTarget(ctx, entity.Target{
		ControllerID: controllerID,
		Name:         name,
		Description:  description,
	})
	switch {
	case err == nil:
		log.Info("Target created")
		return target, nil
	case rest.StatusCode(err) == http.StatusConflict:
		log.Debug("Target created concurrently, fetching it again")
		return c.GetTarget(ctx, controllerID)
	default:
		return nil, err
	}
}
