package menu

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translatemenu/internal/correlation"
	"translatemenu/internal/lib/menuimage"
	"translatemenu/internal/preferences"
)

type fakeExtractor struct {
	menu   Menu
	err    error
	images int
	prefs  *preferences.Preferences
}

func (f *fakeExtractor) Extract(_ context.Context, images [][]byte, prefs *preferences.Preferences) (Menu, error) {
	f.images = len(images)
	f.prefs = prefs
	return f.menu, f.err
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls [][2]string
	fail  map[string]bool
}

func (f *fakeSubmitter) Submit(_ context.Context, generationID, name, description string) (correlation.ID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{name, description})
	if f.fail[name] {
		return correlation.ID{}, false
	}
	id, err := correlation.Mint(generationID)
	if err != nil {
		return correlation.ID{}, false
	}
	return id, true
}

type fakeGenerations struct {
	created int
	updated []Menu
	err     error
}

func (f *fakeGenerations) CreateGeneration(_ context.Context, _ string, _ any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created++
	return "6f1c2a64-8f5e-4f7a-9d5c-1f0f4f2d9e11", nil
}

func (f *fakeGenerations) UpdateGeneration(_ context.Context, _ string, data any) error {
	f.updated = append(f.updated, data.(Menu))
	return nil
}

type fakePrefs struct {
	p   *preferences.Preferences
	err error
}

func (f fakePrefs) GetPreferences(context.Context, string) (*preferences.Preferences, error) {
	return f.p, f.err
}

func photo(t *testing.T) menuimage.Upload {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	require.NoError(t, png.Encode(&buf, img))
	return menuimage.Upload{FileName: "menu.png", Data: buf.Bytes()}
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleMenu() Menu {
	return Menu{IsMenu: true, Items: []Dish{
		{Name: "Ramen", Price: PriceOf(12), Description: "Fideos en caldo", TitleEnglish: "Ramen", DescriptionEnglish: "Noodle soup"},
		{Name: "Agua", Price: Price{}, Description: ""},
		{Name: "Gyoza", Price: PriceOf(6), Description: "Empanadillas"},
	}}
}

func TestAnalyzeSubmitsEligibleDishes(t *testing.T) {
	ext := &fakeExtractor{menu: sampleMenu()}
	sub := &fakeSubmitter{}
	gens := &fakeGenerations{}
	prefs := &preferences.Preferences{Country: "Spain", Language: "Spanish"}
	a := NewAnalyzer(AnalyzerDeps{Extractor: ext, Submitter: sub, Generations: gens, Preferences: fakePrefs{p: prefs}, Logger: quiet})

	res, err := a.Analyze(context.Background(), "user_1", []menuimage.Upload{photo(t), photo(t)})
	require.NoError(t, err)

	assert.Equal(t, 2, ext.images)
	assert.Same(t, prefs, ext.prefs)
	assert.Equal(t, 1, gens.created)
	assert.Equal(t, 2, res.ImageJobs)
	assert.Equal(t, [][2]string{{"Ramen", "Noodle soup"}, {"Gyoza", "Empanadillas"}}, sub.calls)

	items := res.Menu.Items
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Image)
	assert.Equal(t, res.GenerationID, items[0].Image.GenerationID)
	assert.Nil(t, items[1].Image, "dish without description gets no image")
	require.NotNil(t, items[2].Image)
	assert.NotEqual(t, items[0].Image.String(), items[2].Image.String())

	require.Len(t, gens.updated, 1)
	assert.NotNil(t, gens.updated[0].Items[0].Image)
}

func TestAnalyzeNotAMenu(t *testing.T) {
	sub := &fakeSubmitter{}
	gens := &fakeGenerations{}
	a := NewAnalyzer(AnalyzerDeps{Extractor: &fakeExtractor{menu: Menu{IsMenu: false}}, Submitter: sub, Generations: gens, Logger: quiet})

	res, err := a.Analyze(context.Background(), "user_1", []menuimage.Upload{photo(t)})
	require.NoError(t, err)
	assert.Equal(t, NotAMenu(), res.Menu)
	assert.Empty(t, sub.calls)
	assert.Zero(t, gens.created)
}

func TestAnalyzeDegradesOnSubmissionFailure(t *testing.T) {
	sub := &fakeSubmitter{fail: map[string]bool{"Ramen": true}}
	a := NewAnalyzer(AnalyzerDeps{Extractor: &fakeExtractor{menu: sampleMenu()}, Submitter: sub, Logger: quiet})

	res, err := a.Analyze(context.Background(), "user_1", []menuimage.Upload{photo(t)})
	require.NoError(t, err)
	assert.Nil(t, res.Menu.Items[0].Image)
	assert.NotNil(t, res.Menu.Items[2].Image)
	assert.Equal(t, 1, res.ImageJobs)
	assert.NotEmpty(t, res.GenerationID, "generation id is minted locally without a store")
}

func TestAnalyzeErrors(t *testing.T) {
	ctx := context.Background()

	a := NewAnalyzer(AnalyzerDeps{Extractor: &fakeExtractor{menu: sampleMenu()}, Submitter: &fakeSubmitter{}, Logger: quiet})
	_, err := a.Analyze(ctx, "u", nil)
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = a.Analyze(ctx, "u", []menuimage.Upload{photo(t), {FileName: "notes.txt", Data: []byte("hi")}})
	assert.ErrorIs(t, err, menuimage.ErrInvalidImage)

	limited := NewAnalyzer(AnalyzerDeps{Extractor: &fakeExtractor{menu: sampleMenu()}, Submitter: &fakeSubmitter{}, MaxImages: 1, Logger: quiet})
	_, err = limited.Analyze(ctx, "u", []menuimage.Upload{photo(t), photo(t)})
	assert.ErrorIs(t, err, menuimage.ErrInvalidImage)

	failing := NewAnalyzer(AnalyzerDeps{Extractor: &fakeExtractor{err: errors.New("model down")}, Submitter: &fakeSubmitter{}, Logger: quiet})
	_, err = failing.Analyze(ctx, "u", []menuimage.Upload{photo(t)})
	assert.ErrorContains(t, err, "model down")

	sub := &fakeSubmitter{}
	noStore := NewAnalyzer(AnalyzerDeps{Extractor: &fakeExtractor{menu: sampleMenu()}, Submitter: sub, Generations: &fakeGenerations{err: errors.New("db down")}, Logger: quiet})
	_, err = noStore.Analyze(ctx, "u", []menuimage.Upload{photo(t)})
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, sub.calls)
}

func TestAnalyzeIgnoresPreferenceErrors(t *testing.T) {
	ext := &fakeExtractor{menu: sampleMenu()}
	a := NewAnalyzer(AnalyzerDeps{Extractor: ext, Submitter: &fakeSubmitter{}, Preferences: fakePrefs{err: errors.New("cache down")}, Logger: quiet})
	_, err := a.Analyze(context.Background(), "u", []menuimage.Upload{photo(t)})
	require.NoError(t, err)
	assert.Nil(t, ext.prefs)
}
