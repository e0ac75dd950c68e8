package card

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validCatalog = `
categories:
  - name: feelings
    description: Emotions
  - name: food
    description: Meals and drinks
cards:
  - path: a.png
    category: feelings
    action: happy
    target: Kids
    keywords: [smile, " ", joy]
  - path: b.png
    category: food
    action: eat
    target: all
    url: https://cards.example.com/b.png
`

func TestSeedIsValid(t *testing.T) {
	catalog := Seed()
	if len(catalog.Cards) == 0 || len(catalog.Categories) == 0 {
		t.Fatal("expected built-in catalog to contain cards and categories")
	}
}

func TestParseCatalogNormalizes(t *testing.T) {
	catalog, err := ParseCatalog([]byte(validCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog err: %v", err)
	}

	first := catalog.Cards[0]
	if first.Target != "kids" {
		t.Fatalf("expected lowercased target, got %q", first.Target)
	}
	if len(first.Keywords) != 2 {
		t.Fatalf("expected blank keyword dropped, got %v", first.Keywords)
	}
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown category": strings.Replace(validCatalog, "category: food", "category: toys", 1),
		"duplicate path":   strings.Replace(validCatalog, "path: b.png", "path: a.png", 1),
		"missing action":   strings.Replace(validCatalog, "action: eat", "action: \"\"", 1),
		"bad url":          strings.Replace(validCatalog, "https://cards.example.com/b.png", "not a url", 1),
		"no cards":         "categories:\n  - name: x\n    description: y\n",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(data)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadCatalogExpandsEnv(t *testing.T) {
	t.Setenv("CARD_HOST", "https://cdn.example.com")
	dir := t.TempDir()
	path := filepath.Join(dir, "cards.yaml")
	data := strings.Replace(validCatalog, "https://cards.example.com", "${CARD_HOST}", 1)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog err: %v", err)
	}
	if got := catalog.Cards[1].URL; got != "https://cdn.example.com/b.png" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestMemoryStoreActionsByCategory(t *testing.T) {
	catalog, err := ParseCatalog([]byte(validCatalog + `
  - path: c.png
    category: feelings
    action: angry
    target: all
  - path: d.png
    category: feelings
    action: happy
    target: kids
`))
	if err != nil {
		t.Fatalf("ParseCatalog err: %v", err)
	}
	store := NewMemoryStore(catalog)

	got := store.ActionsByCategory()["feelings"]
	want := []string{"angry all", "happy kids"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected actions: got %v want %v", got, want)
	}
}

func TestMemoryStoreCopiesCards(t *testing.T) {
	store := NewMemoryStore(Seed())
	cards := store.List()
	cards[0].Keywords = append(cards[0].Keywords[:0], "mutated")

	again, ok := store.FindByPath(cards[0].Path)
	if !ok {
		t.Fatal("expected card to be found")
	}
	for _, kw := range again.Keywords {
		if kw == "mutated" {
			t.Fatal("store must not share keyword slices with callers")
		}
	}
}

func TestMemoryStoreFilter(t *testing.T) {
	store := NewMemoryStore(Seed())

	for _, c := range store.Filter("family", "kids") {
		if c.Category != "family" || (c.Target != "kids" && c.Target != "all") {
			t.Fatalf("unexpected card in filter result: %+v", c)
		}
	}
	if len(store.Filter("", "")) != len(store.List()) {
		t.Fatal("empty filter should return every card")
	}
}

func TestMemoryStoreFilterIncludesCardsForAll(t *testing.T) {
	store := NewMemoryStore(&Catalog{
		Categories: []Category{{Name: "food", Description: "Meals"}},
		Cards: []Card{
			{Path: "kids/eat.png", Category: "food", Action: "eat", Target: "kids"},
			{Path: "adults/eat.png", Category: "food", Action: "eat", Target: "adults"},
			{Path: "all/drink.png", Category: "food", Action: "drink", Target: "all"},
		},
	})

	cases := map[string][]string{
		"kids":   {"kids/eat.png", "all/drink.png"},
		"Adults": {"adults/eat.png", "all/drink.png"},
		"all":    {"all/drink.png"},
		"teens":  nil,
	}
	for target, want := range cases {
		t.Run(target, func(t *testing.T) {
			got := store.Filter("", target)
			if len(got) != len(want) {
				t.Fatalf("Filter(%q) returned %d cards, want %d: %+v", target, len(got), len(want), got)
			}
			for i, c := range got {
				if c.Path != want[i] {
					t.Fatalf("Filter(%q)[%d] = %s, want %s", target, i, c.Path, want[i])
				}
			}
		})
	}
}

func TestWatchReloadsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cards.yaml")
	if err := os.WriteFile(path, []byte(validCatalog), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Catalog, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go Watch(ctx, path, logger, func(c *Catalog) {
		select {
		case reloaded <- c:
		default:
		}
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	updated := validCatalog + "  - path: e.png\n    category: food\n    action: drink\n    target: all\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if len(c.Cards) != 3 {
			t.Fatalf("expected 3 cards after reload, got %d", len(c.Cards))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for catalog reload")
	}
}
