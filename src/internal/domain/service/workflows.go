package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/ddi"
)

// Fixed feedback messages.
const (
	msgProceeding    = "Simulated device started processing the update"
	msgDownloaded    = "Simulated download of all artifacts finished"
	msgInstalled     = "Simulated installation finished successfully"
	msgCancelAccept  = "Cancellation accepted by simulated device"
	msgAutoConfirmed = "Update confirmed automatically by simulated device"
)

func (e *Engine) runConfigData(ctx context.Context, _ string) error {
	attrs := e.opts.DeviceAttributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	if err := e.client.PutConfigData(ctx, entity.ConfigData{Mode: e.opts.ConfigDataMode, Data: attrs}); err != nil {
		return fmt.Errorf("push config data: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"attributes": len(attrs),
		"mode":       e.opts.ConfigDataMode,
	}).Info("Device attributes pushed")
	return nil
}

// runDeployment walks detected -> proceeding -> downloading -> downloaded ->
// installing -> closed. Any error reports closed/failure once, best-effort.
func (e *Engine) runDeployment(ctx context.Context, href string) error {
	actionID, ok := ddi.ExtractActionID(href)
	if !ok {
		return fmt.Errorf("no action id in deployment link %q", href)
	}

	action := entity.NewTrackedAction(actionID, entity.KindDeployment)
	defer e.recordAction(action)
	log := e.log.WithField("action_id", actionID)
	log.Info("Deployment detected")

	if err := e.deploy(ctx, log, action); err != nil {
		action.Fail(err)
		fb := entity.NewFeedback(entity.ExecutionClosed, entity.FinishedFailure,
			fmt.Sprintf("Simulated deployment failed: %v", err))
		if ferr := e.deploymentFeedback(ctx, actionID, fb); ferr != nil {
			log.WithError(ferr).Warn("Failed to report deployment failure")
		}
		return fmt.Errorf("deployment %s: %w", actionID, err)
	}

	action.Complete()
	log.Info("Deployment finished")
	return nil
}

func (e *Engine) deploy(ctx context.Context, log *logrus.Entry, action *entity.TrackedAction) error {
	actionID := action.Snapshot().ID

	base, err := e.client.GetDeploymentBase(ctx, actionID, e.opts.ActionHistory)
	if err != nil {
		return fmt.Errorf("fetch deployment: %w", err)
	}

	action.SetState(entity.StateProceeding)
	if err := e.deploymentFeedback(ctx, actionID,
		entity.NewFeedback(entity.ExecutionProceeding, entity.FinishedNone, msgProceeding)); err != nil {
		return err
	}

	action.SetState(entity.StateDownloading)
	for _, chunk := range base.Deployment.Chunks {
		for _, artifact := range chunk.Artifacts {
			delay := ddi.DownloadDelay(artifact.Size, e.opts.DownloadRate)
			log.WithFields(logrus.Fields{
				"chunk":    chunk.Name,
				"version":  chunk.Version,
				"artifact": artifact.Filename,
				"size":     ddi.FormatSize(artifact.Size),
				"delay":    delay.String(),
			}).Debug("Simulating artifact download")
			if err := e.clock.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("download %s: %w", artifact.Filename, err)
			}
		}
	}

	action.SetState(entity.StateDownloaded)
	if err := e.deploymentFeedback(ctx, actionID,
		entity.NewFeedback(entity.ExecutionDownloaded, entity.FinishedNone, msgDownloaded)); err != nil {
		return err
	}

	action.SetState(entity.StateInstalling)
	log.WithField("delay", e.opts.InstallDelay.String()).Info("Simulating installation")
	if err := e.clock.Sleep(ctx, e.opts.InstallDelay); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	details := []string{msgInstalled}
	if e.installer != nil {
		extra, err := e.installer.Install(ctx, actionID, base.Deployment.Chunks)
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		details = append(details, extra...)
	}

	return e.deploymentFeedback(ctx, actionID,
		entity.NewFeedback(entity.ExecutionClosed, entity.FinishedSuccess, details...))
}

func (e *Engine) deploymentFeedback(ctx context.Context, actionID string, fb entity.ActionFeedback) error {
	if err := e.client.PostDeploymentFeedback(ctx, actionID, fb); err != nil {
		return fmt.Errorf("send %s feedback: %w", fb.Status.Execution, err)
	}
	e.publishFeedback(entity.KindDeployment, actionID, string(fb.Status.Execution), fb.Status.Result.Finished, fb.Status.Details)
	return nil
}

// runCancel always accepts: the simulator never vetoes a cancellation.
func (e *Engine) runCancel(ctx context.Context, href string) error {
	actionID, ok := ddi.ExtractActionID(href)
	if !ok {
		return fmt.Errorf("no action id in cancel link %q", href)
	}

	action := entity.NewTrackedAction(actionID, entity.KindCancel)
	defer e.recordAction(action)

	cancel, err := e.client.GetCancelAction(ctx, actionID)
	if err != nil {
		action.Fail(err)
		return fmt.Errorf("fetch cancel action %s: %w", actionID, err)
	}
	e.log.WithFields(logrus.Fields{
		"action_id": actionID,
		"stop_id":   cancel.CancelAction.StopID,
	}).Info("Cancellation requested")

	fb := entity.NewFeedback(entity.ExecutionClosed, entity.FinishedSuccess, msgCancelAccept)
	if err := e.client.PostCancelFeedback(ctx, actionID, fb); err != nil {
		action.Fail(err)
		return fmt.Errorf("send cancel feedback %s: %w", actionID, err)
	}
	e.publishFeedback(entity.KindCancel, actionID, string(fb.Status.Execution), fb.Status.Result.Finished, fb.Status.Details)

	action.Complete()
	return nil
}

func (e *Engine) runConfirmation(ctx context.Context, _ string) error {
	base, err := e.client.GetConfirmationBase(ctx)
	if err != nil {
		return fmt.Errorf("fetch confirmation base: %w", err)
	}

	actionID, ok := pendingConfirmation(base.Links)
	if !ok {
		e.log.Debug("No pending confirmation")
		return nil
	}
	log := e.log.WithField("action_id", actionID)

	if !e.opts.AutoConfirm {
		log.Info("Confirmation pending, auto-confirm disabled")
		return nil
	}

	action := entity.NewTrackedAction(actionID, entity.KindConfirmation)
	defer e.recordAction(action)

	fb := entity.ConfirmationFeedback{
		Confirmation: entity.Confirmed,
		Details:      []string{msgAutoConfirmed},
	}
	if err := e.client.PostConfirmationFeedback(ctx, actionID, fb); err != nil {
		action.Fail(err)
		return fmt.Errorf("send confirmation %s: %w", actionID, err)
	}
	e.publishFeedback(entity.KindConfirmation, actionID, string(fb.Confirmation), "", fb.Details)

	action.Complete()
	log.Info("Deployment confirmed")
	return nil
}

// pendingConfirmation finds the confirmationBase/{id} link in a confirmation
// base response. The base link itself carries no id and is skipped.
func pendingConfirmation(links entity.Links) (string, bool) {
	if href, ok := links.Href(entity.LinkConfirmationBase); ok {
		if id, ok := ddi.ConfirmationActionID(href); ok {
			return id, true
		}
	}

	names := make([]string, 0, len(links))
	for name := range links {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if id, ok := ddi.ConfirmationActionID(links[name].Href); ok {
			return id, true
		}
	}
	return "", false
}

func (e *Engine) publishFeedback(kind entity.ActionKind, actionID, execution string, finished entity.Finished, details []string) {
	e.publish(entity.Event{
		Kind:      entity.EventFeedback,
		ActionID:  actionID,
		Action:    kind,
		Execution: execution,
		Finished:  finished,
		Details:   details,
	})
}
