// Package bots runs external automation scripts as opaque processes.
package bots

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// ErrUnknownBot indicates the id is not registered.
var ErrUnknownBot = errors.New("bots: unknown bot")

// Bot is one registered automation.
type Bot struct {
	ID                string
	Name              string
	Description       string
	Command           []string
	EstimatedDuration time.Duration
}

// Registry is a static, read-only set of bots.
type Registry struct {
	bots map[string]Bot
}

// NewRegistry validates and indexes the given bots.
func NewRegistry(bots ...Bot) (*Registry, error) {
	r := &Registry{bots: make(map[string]Bot, len(bots))}
	for _, b := range bots {
		if b.ID == "" || len(b.Command) == 0 {
			return nil, fmt.Errorf("bots: bot %q needs an id and a command", b.ID)
		}
		if _, dup := r.bots[b.ID]; dup {
			return nil, fmt.Errorf("bots: duplicate bot %q", b.ID)
		}
		r.bots[b.ID] = b
	}
	return r, nil
}

// DefaultRegistry lists the receiving automations shipped next to the verifier.
// Script paths are resolved under dir with the given interpreter.
func DefaultRegistry(interpreter, dir string) *Registry {
	script := func(name string) []string { return []string{interpreter, filepath.Join(dir, name)} }
	r, _ := NewRegistry(
		Bot{ID: "sic_full", Name: "SIC - full process", Description: "Log into SIC and open the accounting/fiscal module", Command: script("bot.py"), EstimatedDuration: 5 * time.Minute},
		Bot{ID: "sic_login", Name: "SIC - login only", Description: "Log into SIC", Command: script("Sic_Login.py"), EstimatedDuration: time.Minute},
		Bot{ID: "sic_inserir_nfs", Name: "SIC - insert pending invoices", Description: "Insert every pending invoice into SIC", Command: script("Sic_Inserir_NF.py"), EstimatedDuration: 3 * time.Minute},
		Bot{ID: "rm_login", Name: "RM - login", Description: "Log into TOTVS RM", Command: script("RM_Login.py"), EstimatedDuration: time.Minute},
		Bot{ID: "consulta_nfe", Name: "NFe lookup", Description: "Look up an electronic invoice", Command: script("Consulta_nfe.py"), EstimatedDuration: 30 * time.Second},
	)
	return r
}

// Get returns the bot registered under id.
func (r *Registry) Get(id string) (Bot, error) {
	b, ok := r.bots[id]
	if !ok {
		return Bot{}, fmt.Errorf("%w: %q", ErrUnknownBot, id)
	}
	return b, nil
}

// List returns every bot ordered by id.
func (r *Registry) List() []Bot {
	out := make([]Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
