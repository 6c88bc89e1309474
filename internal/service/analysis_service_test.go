package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shootsafe-server/internal/messaging"
	"shootsafe-server/internal/models"
	"shootsafe-server/internal/service"
)

// Ручные in-memory заглушки репозиториев: поведение настраивается полями-функциями.

type fakeProjectRepo struct {
	projects map[uuid.UUID]*models.Project
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[uuid.UUID]*models.Project)}
}

func (r *fakeProjectRepo) Create(ctx context.Context, project *models.Project) error {
	r.projects[project.ID] = project
	return nil
}

func (r *fakeProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	project, ok := r.projects[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *project
	return &copied, nil
}

func (r *fakeProjectRepo) ListByUser(ctx context.Context, userID uint64) ([]*models.Project, error) {
	var result []*models.Project
	for _, p := range r.projects {
		if p.UserID == userID {
			copied := *p
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakeProjectRepo) UpdateScript(ctx context.Context, id uuid.UUID, scriptText string) error {
	project, ok := r.projects[id]
	if !ok {
		return models.ErrNotFound
	}
	project.ScriptText = scriptText
	return nil
}

func (r *fakeProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.projects[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.projects, id)
	return nil
}

type fakeRunRepo struct {
	runs      map[uuid.UUID]*models.AnalysisRun
	createErr error
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[uuid.UUID]*models.AnalysisRun)}
}

func (r *fakeRunRepo) Create(ctx context.Context, run *models.AnalysisRun) error {
	if r.createErr != nil {
		return r.createErr
	}
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

func (r *fakeRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (r *fakeRunRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.AnalysisRun, error) {
	var result []*models.AnalysisRun
	for _, run := range r.runs {
		if run.ProjectID == projectID {
			copied := *run
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakeRunRepo) SetStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	run, ok := r.runs[id]
	if !ok {
		return models.ErrNotFound
	}
	run.Status = status
	run.ErrorMessage = errorMessage
	return nil
}

func (r *fakeRunRepo) SaveResult(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	run, ok := r.runs[id]
	if !ok {
		return models.ErrNotFound
	}
	run.Status = models.RunStatusCompleted
	run.Result = result
	return nil
}

type fakeStatusRepo struct {
	progress map[uuid.UUID]models.RunProgress
	setErr   error
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{progress: make(map[uuid.UUID]models.RunProgress)}
}

func (r *fakeStatusRepo) SetProgress(ctx context.Context, progress models.RunProgress) error {
	if r.setErr != nil {
		return r.setErr
	}
	r.progress[progress.RunID] = progress
	return nil
}

func (r *fakeStatusRepo) GetProgress(ctx context.Context, runID uuid.UUID) (*models.RunProgress, error) {
	progress, ok := r.progress[runID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &progress, nil
}

type fakePublisher struct {
	published []messaging.AnalysisTaskPayload
	err       error
}

func (p *fakePublisher) PublishAnalysisTask(ctx context.Context, payload messaging.AnalysisTaskPayload) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, payload)
	return nil
}

type fakeEvaluator struct {
	risk   func(attrs models.SceneAttributes) models.RiskResult
	budget func(attrs models.SceneAttributes) models.BudgetResult
}

func (e *fakeEvaluator) Evaluate(attrs models.SceneAttributes, baseCity, scale string) (models.RiskResult, models.BudgetResult) {
	return e.risk(attrs), e.budget(attrs)
}

type fixture struct {
	projects  *fakeProjectRepo
	runs      *fakeRunRepo
	status    *fakeStatusRepo
	publisher *fakePublisher
	evaluator *fakeEvaluator
	service   *service.AnalysisService
}

func newFixture() *fixture {
	f := &fixture{
		projects:  newFakeProjectRepo(),
		runs:      newFakeRunRepo(),
		status:    newFakeStatusRepo(),
		publisher: &fakePublisher{},
		evaluator: &fakeEvaluator{
			risk:   func(models.SceneAttributes) models.RiskResult { return models.RiskResult{} },
			budget: func(models.SceneAttributes) models.BudgetResult { return models.BudgetResult{} },
		},
	}
	f.service = service.NewAnalysisService(f.projects, f.runs, f.status, f.publisher, f.evaluator, zap.NewNop())
	return f
}

func (f *fixture) seedProject(userID uint64, scriptText string) *models.Project {
	project := &models.Project{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       "Monsoon Chase",
		BaseCity:   "Mumbai",
		Scale:      models.ScaleIndie,
		ScriptText: scriptText,
	}
	f.projects.projects[project.ID] = project
	return project
}

func TestCreateProject(t *testing.T) {
	ctx := context.Background()

	t.Run("Valid project is created", func(t *testing.T) {
		f := newFixture()
		project, err := f.service.CreateProject(ctx, 7, "  Monsoon Chase  ", "Mumbai", models.ScaleIndie)
		require.NoError(t, err)
		assert.Equal(t, "Monsoon Chase", project.Name)
		assert.Equal(t, uint64(7), project.UserID)
		assert.NotEqual(t, uuid.Nil, project.ID)
	})

	t.Run("Blank name is a validation error", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.CreateProject(ctx, 7, "   ", "Mumbai", models.ScaleIndie)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("Unknown scale is rejected", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.CreateProject(ctx, 7, "Monsoon Chase", "Mumbai", "blockbuster")
		assert.ErrorIs(t, err, models.ErrInvalidScale)
	})
}

func TestGetProject(t *testing.T) {
	ctx := context.Background()

	t.Run("Owner reads the project", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "")
		got, err := f.service.GetProject(ctx, 7, project.ID)
		require.NoError(t, err)
		assert.Equal(t, project.ID, got.ID)
	})

	t.Run("Foreign project is denied", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "")
		_, err := f.service.GetProject(ctx, 8, project.ID)
		assert.ErrorIs(t, err, models.ErrAccessDenied)
	})

	t.Run("Missing project is not found", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.GetProject(ctx, 7, uuid.New())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestUploadScript(t *testing.T) {
	ctx := context.Background()

	t.Run("Script is stored", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "")
		require.NoError(t, f.service.UploadScript(ctx, 7, project.ID, "INT. HOTEL - DAY\nScene."))
		assert.NotEmpty(t, f.projects.projects[project.ID].ScriptText)
	})

	t.Run("Blank script is rejected", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "")
		err := f.service.UploadScript(ctx, 7, project.ID, "   \n ")
		assert.ErrorIs(t, err, models.ErrScriptEmpty)
	})

	t.Run("Foreign project is denied", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "")
		err := f.service.UploadScript(ctx, 8, project.ID, "INT. HOTEL - DAY")
		assert.ErrorIs(t, err, models.ErrAccessDenied)
	})
}

func TestStartRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Run is created pending and the task is published", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "INT. HOTEL - DAY\nScene.")

		run, err := f.service.StartRun(ctx, 7, project.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusPending, run.Status)

		require.Len(t, f.publisher.published, 1)
		assert.Equal(t, run.ID, f.publisher.published[0].RunID)
		assert.Equal(t, project.ID, f.publisher.published[0].ProjectID)
		assert.Equal(t, uint64(7), f.publisher.published[0].UserID)

		seeded, ok := f.status.progress[run.ID]
		require.True(t, ok)
		assert.Equal(t, "queued", seeded.Phase)
		assert.Equal(t, 0, seeded.Percent)
	})

	t.Run("Project without a script cannot start", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "   ")
		_, err := f.service.StartRun(ctx, 7, project.ID)
		assert.ErrorIs(t, err, models.ErrScriptEmpty)
		assert.Empty(t, f.publisher.published)
	})

	t.Run("Publish failure marks the run failed", func(t *testing.T) {
		f := newFixture()
		f.publisher.err = errors.New("broker down")
		project := f.seedProject(7, "INT. HOTEL - DAY\nScene.")

		_, err := f.service.StartRun(ctx, 7, project.ID)
		require.Error(t, err)

		require.Len(t, f.runs.runs, 1)
		for _, run := range f.runs.runs {
			assert.Equal(t, models.RunStatusFailed, run.Status)
			require.NotNil(t, run.ErrorMessage)
		}
	})

	t.Run("Progress seeding failure does not block the run", func(t *testing.T) {
		f := newFixture()
		f.status.setErr = errors.New("redis down")
		project := f.seedProject(7, "INT. HOTEL - DAY\nScene.")

		run, err := f.service.StartRun(ctx, 7, project.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusPending, run.Status)
		assert.Len(t, f.publisher.published, 1)
	})
}

func TestGetRunResult(t *testing.T) {
	ctx := context.Background()

	t.Run("Completed run returns the parsed result", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "script")
		runID := uuid.New()
		blob, err := json.Marshal(models.AnalysisResult{
			ProjectID: project.ID,
			RunID:     runID,
			Summary:   models.RunSummary{TotalScenes: 2},
		})
		require.NoError(t, err)
		f.runs.runs[runID] = &models.AnalysisRun{
			ID:        runID,
			ProjectID: project.ID,
			Status:    models.RunStatusCompleted,
			Result:    blob,
		}

		result, err := f.service.GetRunResult(ctx, 7, runID)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Summary.TotalScenes)
	})

	t.Run("Pending run is not ready", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "script")
		runID := uuid.New()
		f.runs.runs[runID] = &models.AnalysisRun{
			ID:        runID,
			ProjectID: project.ID,
			Status:    models.RunStatusPending,
		}

		_, err := f.service.GetRunResult(ctx, 7, runID)
		assert.ErrorIs(t, err, models.ErrRunNotReady)
	})

	t.Run("Completed run without a blob is not ready", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "script")
		runID := uuid.New()
		f.runs.runs[runID] = &models.AnalysisRun{
			ID:        runID,
			ProjectID: project.ID,
			Status:    models.RunStatusCompleted,
		}

		_, err := f.service.GetRunResult(ctx, 7, runID)
		assert.ErrorIs(t, err, models.ErrRunNotReady)
	})

	t.Run("Foreign run is denied", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "script")
		runID := uuid.New()
		f.runs.runs[runID] = &models.AnalysisRun{
			ID:        runID,
			ProjectID: project.ID,
			Status:    models.RunStatusCompleted,
			Result:    json.RawMessage(`{}`),
		}

		_, err := f.service.GetRunResult(ctx, 8, runID)
		assert.ErrorIs(t, err, models.ErrAccessDenied)
	})
}

func TestGetRunProgress(t *testing.T) {
	ctx := context.Background()

	t.Run("Live progress wins", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "script")
		runID := uuid.New()
		f.runs.runs[runID] = &models.AnalysisRun{ID: runID, ProjectID: project.ID, Status: models.RunStatusRunning}
		f.status.progress[runID] = models.RunProgress{RunID: runID, Status: models.RunStatusRunning, Phase: "scoring", Percent: 45}

		progress, err := f.service.GetRunProgress(ctx, 7, runID)
		require.NoError(t, err)
		assert.Equal(t, "scoring", progress.Phase)
		assert.Equal(t, 45, progress.Percent)
	})

	t.Run("Missing live progress is synthesized from the run status", func(t *testing.T) {
		f := newFixture()
		project := f.seedProject(7, "script")
		runID := uuid.New()
		f.runs.runs[runID] = &models.AnalysisRun{ID: runID, ProjectID: project.ID, Status: models.RunStatusCompleted}

		progress, err := f.service.GetRunProgress(ctx, 7, runID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, progress.Status)
		assert.Equal(t, 100, progress.Percent)
	})
}

func TestWhatIf(t *testing.T) {
	ctx := context.Background()

	t.Run("Deltas compare modified against base", func(t *testing.T) {
		f := newFixture()
		f.evaluator.risk = func(attrs models.SceneAttributes) models.RiskResult {
			if attrs["stunt_level"].Value == "heavy" {
				return models.RiskResult{FinalScore: 120}
			}
			return models.RiskResult{FinalScore: 30}
		}
		f.evaluator.budget = func(attrs models.SceneAttributes) models.BudgetResult {
			if attrs["stunt_level"].Value == "heavy" {
				return models.BudgetResult{CostLikely: 180000}
			}
			return models.BudgetResult{CostLikely: 45000}
		}

		result, err := f.service.WhatIf(ctx, service.WhatIfRequest{
			BaseCity: "Mumbai",
			Scale:    models.ScaleIndie,
			Base:     models.SceneAttributes{"stunt_level": {Value: "light", Confidence: 0.9}},
			Modified: models.SceneAttributes{"stunt_level": {Value: "heavy", Confidence: 0.9}},
		})
		require.NoError(t, err)
		assert.Equal(t, 30, result.Base.Risk.FinalScore)
		assert.Equal(t, 120, result.Modified.Risk.FinalScore)
		assert.Equal(t, 90, result.RiskDelta)
		assert.Equal(t, 135000, result.CostLikelyDelta)
	})

	t.Run("Unknown scale is rejected", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.WhatIf(ctx, service.WhatIfRequest{Scale: "blockbuster"})
		assert.ErrorIs(t, err, models.ErrInvalidScale)
	})
}
