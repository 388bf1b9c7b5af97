package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"translatemenu/internal/correlation"
	"translatemenu/internal/lib/menuimage"
	"translatemenu/internal/preferences"
)

var ErrNoImages = errors.New("no images provided")

type Extractor interface {
	Extract(ctx context.Context, images [][]byte, prefs *preferences.Preferences) (Menu, error)
}

type ImageSubmitter interface {
	Submit(ctx context.Context, generationID, name, description string) (correlation.ID, bool)
}

type PreferencesSource interface {
	GetPreferences(ctx context.Context, userID string) (*preferences.Preferences, error)
}

type GenerationStore interface {
	CreateGeneration(ctx context.Context, userID string, data any) (string, error)
	UpdateGeneration(ctx context.Context, id string, data any) error
}

type Analyzer struct {
	extractor   Extractor
	submitter   ImageSubmitter
	prefs       PreferencesSource
	generations GenerationStore
	maxImages   int
	logger      *slog.Logger
}

type AnalyzerDeps struct {
	Extractor Extractor
	Submitter ImageSubmitter
	// Preferences and Generations are optional.
	Preferences PreferencesSource
	Generations GenerationStore
	MaxImages   int
	Logger      *slog.Logger
}

func NewAnalyzer(deps AnalyzerDeps) *Analyzer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		extractor:   deps.Extractor,
		submitter:   deps.Submitter,
		prefs:       deps.Preferences,
		generations: deps.Generations,
		maxImages:   deps.MaxImages,
		logger:      logger.With("component", "analyzer"),
	}
}

// Result is an analysed menu plus the generation it was stored under.
type Result struct {
	GenerationID string
	Menu         Menu
	ImageJobs    int
}

// Analyze extracts a menu from uploads and starts one image job per eligible
// dish. A dish whose job could not be submitted is returned without an image.
func (a *Analyzer) Analyze(ctx context.Context, userID string, uploads []menuimage.Upload) (Result, error) {
	if len(uploads) == 0 {
		return Result{}, ErrNoImages
	}
	if a.maxImages > 0 && len(uploads) > a.maxImages {
		return Result{}, fmt.Errorf("%w: at most %d images per request", menuimage.ErrInvalidImage, a.maxImages)
	}

	prefs := a.loadPreferences(ctx, userID)

	images, err := menuimage.NormalizeAll(ctx, uploads)
	if err != nil {
		return Result{}, err
	}

	m, err := a.extractor.Extract(ctx, images, prefs)
	if err != nil {
		return Result{}, fmt.Errorf("extract menu: %w", err)
	}
	if !m.IsMenu {
		a.logger.InfoContext(ctx, "images are not a menu", "user_id", userID, "images", len(images))
		return Result{Menu: NotAMenu()}, nil
	}

	generationID, err := a.createGeneration(ctx, userID, m)
	if err != nil {
		return Result{}, err
	}

	// One job at a time; ordering across dishes carries no meaning.
	jobs := 0
	for i := range m.Items {
		d := &m.Items[i]
		d.Image = nil
		if !d.Eligible() {
			continue
		}
		name, desc := d.PromptMaterial()
		if id, ok := a.submitter.Submit(ctx, generationID, name, desc); ok {
			d.Image = &id
			jobs++
		}
	}

	if a.generations != nil && jobs > 0 {
		if err := a.generations.UpdateGeneration(ctx, generationID, m); err != nil {
			a.logger.ErrorContext(ctx, "attach image references", "generation_id", generationID, "error", err)
		}
	}

	a.logger.InfoContext(ctx, "menu analysed",
		"user_id", userID,
		"generation_id", generationID,
		"dishes", len(m.Items),
		"image_jobs", jobs)
	return Result{GenerationID: generationID, Menu: m, ImageJobs: jobs}, nil
}

func (a *Analyzer) loadPreferences(ctx context.Context, userID string) *preferences.Preferences {
	if a.prefs == nil {
		return nil
	}
	p, err := a.prefs.GetPreferences(ctx, userID)
	if err != nil {
		a.logger.WarnContext(ctx, "load preferences", "user_id", userID, "error", err)
		return nil
	}
	return p
}

func (a *Analyzer) createGeneration(ctx context.Context, userID string, m Menu) (string, error) {
	if a.generations == nil {
		return uuid.NewString(), nil
	}
	id, err := a.generations.CreateGeneration(ctx, userID, m)
	if err != nil {
		return "", fmt.Errorf("save generation: %w", err)
	}
	return id, nil
}
