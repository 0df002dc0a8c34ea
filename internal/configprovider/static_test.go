// SPDX-License-Identifier: AGPL-3.0-or-later

package configprovider

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
)

func sampleCatalog() map[string]clustertopo.BucketConfig {
	return map[string]clustertopo.BucketConfig{
		"travel-sample": {BucketName: "travel-sample"},
		"beer-sample":   {BucketName: "beer-sample"},
	}
}

func TestStaticProviderOpenBucketPublishesConfig(t *testing.T) {
	p := NewStaticProvider(sampleCatalog(), nil)

	if err := p.OpenBucket(context.Background(), "travel-sample"); err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}

	cfg := <-p.Configs()
	if _, ok := cfg.Buckets["travel-sample"]; !ok {
		t.Fatal("expected travel-sample in the published config")
	}
	if cfg != p.Config() {
		t.Error("Config() should return the same snapshot just published")
	}
}

func TestStaticProviderOpenUnknownBucketFails(t *testing.T) {
	p := NewStaticProvider(sampleCatalog(), nil)

	err := p.OpenBucket(context.Background(), "does-not-exist")
	if !errors.Is(err, clienterr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestStaticProviderCloseBucketRemovesFromSnapshot(t *testing.T) {
	p := NewStaticProvider(sampleCatalog(), nil)
	ctx := context.Background()

	_ = p.OpenBucket(ctx, "travel-sample")
	<-p.Configs()

	_ = p.CloseBucket(ctx, "travel-sample")
	cfg := <-p.Configs()

	if _, ok := cfg.Buckets["travel-sample"]; ok {
		t.Error("expected travel-sample to be removed after CloseBucket")
	}
}

func TestStaticProviderLoadAndRefreshGlobalConfigRequiresGlobal(t *testing.T) {
	p := NewStaticProvider(sampleCatalog(), nil)
	err := p.LoadAndRefreshGlobalConfig(context.Background())
	if !errors.Is(err, clienterr.ErrGlobalConfigNotFound) {
		t.Fatalf("err = %v, want ErrGlobalConfigNotFound", err)
	}

	withGlobal := NewStaticProvider(sampleCatalog(), &clustertopo.GlobalConfig{})
	if err := withGlobal.LoadAndRefreshGlobalConfig(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadStaticProviderFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.json")

	payload := staticFile{
		Buckets: sampleCatalog(),
		Global:  &clustertopo.GlobalConfig{},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p, err := LoadStaticProviderFromFile(path)
	if err != nil {
		t.Fatalf("LoadStaticProviderFromFile: %v", err)
	}
	if err := p.OpenBucket(context.Background(), "beer-sample"); err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	cfg := <-p.Configs()
	if _, ok := cfg.Buckets["beer-sample"]; !ok {
		t.Error("expected beer-sample loaded from file to be openable")
	}
}
