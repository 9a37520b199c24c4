package app

import (
	"context"
	"testing"

	"github.com/codelake/codelake/internal/config"
	"github.com/codelake/codelake/internal/log"
)

func TestProvideWebSupplementerDisabledWithoutBaseURL(t *testing.T) {
	cfg := &config.Config{}

	s, err := provideWebSupplementer(cfg, log.NewNop())
	if err != nil {
		t.Fatalf("provideWebSupplementer: %v", err)
	}
	if s != nil {
		t.Error("supplementer should be nil when base_url is empty")
	}
}

func TestProvideWebSupplementerConfigured(t *testing.T) {
	cfg := &config.Config{}
	cfg.WebSearch.BaseURL = "http://searxng:8080"
	cfg.WebSearch.MaxResults = 3

	s, err := provideWebSupplementer(cfg, log.NewNop())
	if err != nil {
		t.Fatalf("provideWebSupplementer: %v", err)
	}
	if s == nil {
		t.Fatal("supplementer should be built when base_url is set")
	}
}

func TestWarmMemoryWithoutStore(t *testing.T) {
	a := &App{Logger: log.NewNop()}
	if err := a.WarmMemory(context.Background()); err != nil {
		t.Fatalf("WarmMemory without a store should be a no-op, got %v", err)
	}
}

func TestSetupRejectsNilConfig(t *testing.T) {
	if _, err := Setup(context.Background(), nil, log.NewNop()); err == nil {
		t.Error("expected error for nil config")
	}
}
