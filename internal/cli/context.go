// Package cli provides the command-line interface for newsfetch.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/law-makers/newsfetch/internal/app"
)

type ctxKey struct{}

// errNoApp is returned by commands run without an initialized Application
var errNoApp = errors.New("application not initialized")

// SetApp stores a in the command's context
func SetApp(cmd *cobra.Command, a *app.Application) {
	if cmd == nil {
		return
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, ctxKey{}, a))
}

// GetApp retrieves the Application stored by SetApp, or nil
func GetApp(cmd *cobra.Command) *app.Application {
	if cmd == nil || cmd.Context() == nil {
		return nil
	}
	a, _ := cmd.Context().Value(ctxKey{}).(*app.Application)
	return a
}

func mustApp(cmd *cobra.Command) (*app.Application, error) {
	a := GetApp(cmd)
	if a == nil {
		return nil, errNoApp
	}
	return a, nil
}
