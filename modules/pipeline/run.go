package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	"github.com/hashwanthgogineni/gamora-ai/modules/progress"
	"github.com/hashwanthgogineni/gamora-ai/modules/validator"
)

// terminalWriteTimeout - 실행 컨텍스트가 끝난 뒤 실패 상태를 기록할 시간
const terminalWriteTimeout = 10 * time.Second

// run - 프로젝트 하나의 실행 상태 (단일 고루틴 전용)
type run struct {
	p              *Pipeline
	project        *model.Project
	log            *logrus.Entry
	classification classifier.Result
	candidate      *codegen.Candidate
}

// record - generation_logs row 하나의 재료
type record struct {
	step    model.LogStep
	status  model.LogStatus
	attempt int
	started time.Time
	model   string
	tokens  int
	err     string
	meta    map[string]any
}

func (r *run) row(rec record) *model.GenerationLog {
	meta := map[string]any{"project_status": string(r.project.Status)}
	for k, v := range rec.meta {
		meta[k] = v
	}
	l := &model.GenerationLog{
		ID:         uuid.NewString(),
		ProjectID:  r.project.ID,
		Step:       rec.step,
		Status:     rec.status,
		Attempt:    rec.attempt,
		DurationMS: time.Since(rec.started).Milliseconds(),
		AIModel:    rec.model,
		TokensUsed: rec.tokens,
		Metadata:   meta,
	}
	if rec.err != "" {
		l.Error = model.StringPtr(rec.err)
	}
	return l
}

// advance - 상태 저장 → 로그 row → 진행 이벤트 (이 순서 고정)
func (r *run) advance(ctx context.Context, to model.ProjectStatus, rec record, ev progress.Event) error {
	from := r.project.Status
	if from != to && !model.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s → %s", from, to)
	}
	r.project.Status = to
	r.project.UpdatedAt = time.Now().UTC()

	if err := r.p.gw.UpdateProject(ctx, r.project); err != nil {
		return err
	}
	if err := r.p.gw.AppendLog(ctx, r.row(rec)); err != nil {
		return err
	}
	r.p.publish(r.project.ID, ev)
	return nil
}

// terminate - failed 로 종료. 실행 컨텍스트가 끝났어도 기록을 시도하고 채널을 닫음
func (r *run) terminate(ctx context.Context, rec record, summary string) {
	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
		defer cancel()
	}

	r.project.Status = model.StatusFailed
	r.project.Error = model.StringPtr(summary)
	r.project.UpdatedAt = time.Now().UTC()

	if err := r.p.gw.UpdateProject(wctx, r.project); err != nil {
		r.log.Errorf("❌ Failed to persist failed status: %v", err)
	} else if err := r.p.gw.AppendLog(wctx, r.row(rec)); err != nil {
		r.log.Errorf("❌ Failed to append %s log: %v", rec.step, err)
	}

	r.p.metrics.RunsFailed.Add(1)
	r.log.WithField("step", rec.step).Errorf("❌ Generation failed: %s", summary)
	r.p.finish(r.project.ID,
		progress.Progress(model.StatusFailed, rec.step, progressDone, summary),
		progress.Failure(summary))
}

// abort - 영속화 실패. 실패 상태를 최선으로 기록하고 에러 반환
func (r *run) abort(ctx context.Context, step model.LogStep, err error) error {
	summary := fmt.Sprintf("internal error while saving progress (%s)", step)
	r.terminate(ctx, record{step: step, status: model.LogError, started: time.Now(), err: err.Error()}, summary)
	return err
}

func (r *run) execute(ctx context.Context) error {
	if err := r.classify(ctx); err != nil {
		return err
	}

	var (
		attempt    int
		issues     []validator.Issue
		priorError string
		maxCalls   = r.p.opts.MaxRepairAttempts + 1
	)

	for {
		attempt++
		step := model.StepGenerate
		if attempt > 1 {
			step = model.StepRepair
			r.p.metrics.RepairAttempts.Add(1)
		}
		stepLog := r.log.WithFields(logrus.Fields{"step": step, "attempt": attempt})

		started := time.Now()
		out, err := r.p.generator.Generate(ctx, codegen.ContextSpec{
			ProjectID:      r.project.ID,
			Prompt:         r.project.Prompt,
			Classification: r.classification,
			Attempt:        attempt,
			PriorCandidate: r.candidate,
			Issues:         validator.Strings(issues),
			PriorError:     priorError,
		})
		r.p.metrics.AICalls.Add(1)
		r.p.metrics.AITokens.Add(int64(out.Usage.TokensUsed))
		rec := record{step: step, attempt: attempt, started: started, model: out.Usage.Model, tokens: out.Usage.TokensUsed}

		if err != nil {
			rec.status = model.LogError
			rec.err = err.Error()
			rec.meta = map[string]any{"transport_attempts": out.Usage.Attempts}

			var rejected *codegen.GenerationRejectedError
			switch {
			case errors.As(err, &rejected):
				r.terminate(ctx, rec, "AI request was rejected: "+rejected.Err.Error())
				return err
			case ctx.Err() != nil:
				r.terminate(ctx, rec, fmt.Sprintf("generation timed out after %s", r.p.opts.Timeout))
				return err
			case attempt >= maxCalls:
				r.terminate(ctx, rec, fmt.Sprintf("AI service unavailable after %d attempts: %v", attempt, err))
				return err
			}

			stepLog.Warnf("⚠️  Generation call failed, retrying under repair budget (%d/%d): %v", attempt, maxCalls, err)
			priorError = err.Error()
			msg := fmt.Sprintf("AI service hiccup, retrying (%d/%d)", attempt, r.p.opts.MaxRepairAttempts)
			if aerr := r.advance(ctx, model.StatusRepairing, rec, progress.Progress(model.StatusRepairing, step, progressRepairing, msg)); aerr != nil {
				return r.abort(ctx, step, aerr)
			}
			continue
		}

		priorError = ""
		rec.status = model.LogOK
		msg := "Game code generated"
		switch res := out.Result.(type) {
		case codegen.ParsedOk:
			c := res.Candidate
			r.candidate = &c
			r.project.AIContent = &model.AIContent{
				Files:        c.Files,
				Manifest:     c.Manifest,
				Entities:     c.Entities,
				TemplateSeed: r.classification.TemplateSeed,
			}
			rec.meta = map[string]any{"files": len(c.Files), "assets": len(c.Manifest.Assets)}
			msg = fmt.Sprintf("Generated %d files", len(c.Files))
		case codegen.ParsedInvalid:
			rec.meta = map[string]any{"parse_error": res.Reason}
			msg = "Model response was malformed"
		}
		if step == model.StepRepair {
			msg = fmt.Sprintf("Repair %d/%d: %s", attempt-1, r.p.opts.MaxRepairAttempts, msg)
		}
		if err := r.advance(ctx, model.StatusValidating, rec, progress.Progress(model.StatusValidating, step, progressGenerated, msg)); err != nil {
			return r.abort(ctx, step, err)
		}

		var done bool
		issues, done, err = r.validate(ctx, out.Result, attempt, maxCalls)
		if done {
			return err
		}
	}
}

// classify - 분류 결과를 프로젝트에 기록 (상태는 generating 유지)
func (r *run) classify(ctx context.Context) error {
	started := time.Now()
	res, err := r.p.classifier.Classify(ctx, r.project.Prompt)
	rec := record{step: model.StepClassifier, started: started, model: res.Usage.Model, tokens: res.Usage.TokensUsed}
	if err != nil {
		rec.status = model.LogError
		rec.err = err.Error()
		r.terminate(ctx, rec, err.Error())
		return err
	}

	r.classification = res
	r.project.Title = res.Title
	r.project.Description = res.Description
	r.project.Genre = res.Genre
	r.project.Dimension = res.Dimension

	rec.status = model.LogOK
	rec.meta = map[string]any{"source": res.Source, "template_seed": res.TemplateSeed}
	if res.FallbackReason != "" {
		rec.meta["fallback_reason"] = res.FallbackReason
	}
	msg := fmt.Sprintf("Planning a %s %s game: %s", res.Dimension, res.Genre, res.Title)
	if err := r.advance(ctx, model.StatusGenerating, rec, progress.Progress(model.StatusGenerating, model.StepClassifier, progressClassified, msg)); err != nil {
		return r.abort(ctx, model.StepClassifier, err)
	}
	r.log.Infof("🧭 Classified as %s/%s (%s)", res.Dimension, res.Genre, res.Source)
	return nil
}

// validate - done 이면 실행 종료 (err 는 실행 결과), 아니면 fatal 이슈로 수정 계속
func (r *run) validate(ctx context.Context, result codegen.ParseResult, attempt, maxCalls int) ([]validator.Issue, bool, error) {
	started := time.Now()
	res := validator.ValidateParsed(result, r.project.Dimension, validator.Options{Genre: r.project.Genre})
	warnings := validator.Strings(res.Warnings())
	rec := record{
		step:    model.StepValidate,
		attempt: attempt,
		started: started,
		meta:    map[string]any{"issues": res.Issues},
	}

	if res.OK {
		rec.status = model.LogOK
		msg := "Validation passed"
		if len(warnings) > 0 {
			r.log.WithField("step", model.StepValidate).Warnf("⚠️  Passed with %d warnings: %v", len(warnings), warnings)
			if r.p.opts.SurfaceWarnings && r.project.AIContent != nil {
				content := *r.project.AIContent
				content.ValidationWarnings = warnings
				r.project.AIContent = &content
				msg = fmt.Sprintf("Validation passed with %d warnings", len(warnings))
			}
		}
		if err := r.advance(ctx, model.StatusValidating, rec, progress.Progress(model.StatusValidating, model.StepValidate, progressValidated, msg)); err != nil {
			return nil, true, r.abort(ctx, model.StepValidate, err)
		}
		return nil, true, r.complete(ctx)
	}

	r.p.metrics.ValidationFailed.Add(1)
	fatal := res.Fatal()
	failure := &ValidationFailure{Attempts: attempt - 1, Issues: fatal}
	rec.status = model.LogError
	rec.err = res.Summary()

	if attempt >= maxCalls {
		r.terminate(ctx, rec, failure.Error())
		return fatal, true, failure
	}

	r.log.WithField("step", model.StepValidate).Warnf("🔧 Validation failed (%d issues), repairing (%d/%d)", len(fatal), attempt, r.p.opts.MaxRepairAttempts)
	msg := fmt.Sprintf("Found %d issues, repairing (%d/%d): %s", len(fatal), attempt, r.p.opts.MaxRepairAttempts, res.Summary())
	if err := r.advance(ctx, model.StatusRepairing, rec, progress.Progress(model.StatusRepairing, model.StepValidate, progressRepairing, msg)); err != nil {
		return fatal, true, r.abort(ctx, model.StepValidate, err)
	}
	return fatal, false, nil
}

// complete - Build(building) → 배포 → Build(ready) → completed → assemble row → complete 이벤트
func (r *run) complete(ctx context.Context) error {
	started := time.Now()
	build := &model.Build{
		ID:        uuid.NewString(),
		ProjectID: r.project.ID,
		Platform:  model.PlatformWeb,
		Status:    model.BuildBuilding,
		CreatedAt: started.UTC(),
	}
	if err := r.p.gw.CreateBuild(ctx, build); err != nil {
		return r.abort(ctx, model.StepAssemble, err)
	}
	r.p.publish(r.project.ID, progress.Progress(r.project.Status, model.StepAssemble, progressAssembling, "Packaging your game"))

	result, err := r.p.assembler.Assemble(ctx, r.project)
	if err != nil {
		build.Status = model.BuildFailed
		build.Error = model.StringPtr(err.Error())
		if uerr := r.p.gw.UpdateBuild(ctx, build); uerr != nil {
			r.log.Errorf("❌ Failed to mark build failed: %v", uerr)
		}
		r.terminate(ctx, record{step: model.StepAssemble, status: model.LogError, started: started, err: err.Error(),
			meta: map[string]any{"build_id": build.ID}}, "failed to package the game: "+err.Error())
		return err
	}

	now := time.Now().UTC()
	build.Status = model.BuildReady
	build.BuildURL = model.StringPtr(result.BuildURL)
	build.WebPreviewURL = model.StringPtr(result.WebPreviewURL)
	build.StoragePath = model.StringPtr(result.StoragePath)
	build.FileSize = result.FileSize
	build.CompletedAt = &now
	if err := r.p.gw.UpdateBuild(ctx, build); err != nil {
		return r.abort(ctx, model.StepAssemble, err)
	}

	r.project.CompletedAt = &now
	rec := record{
		step:    model.StepAssemble,
		status:  model.LogOK,
		started: started,
		meta:    map[string]any{"build_id": build.ID, "file_size": result.FileSize, "placeholders": result.Placeholders},
	}
	if err := r.advance(ctx, model.StatusCompleted, rec, progress.Progress(model.StatusCompleted, model.StepAssemble, progressDone, "Your game is ready!")); err != nil {
		return r.abort(ctx, model.StepAssemble, err)
	}

	r.p.metrics.RunsCompleted.Add(1)
	r.log.Infof("✅ Game completed: %s", result.WebPreviewURL)
	r.p.hub.Finish(r.project.ID, progress.Complete(r.project.ID, result.WebPreviewURL, []model.Build{*build}))
	return nil
}
