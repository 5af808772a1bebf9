package controllers

import "context"

type Controller interface {
	// Run starts the controller and blocks until the context is done.
	Run(ctx context.Context, workers int)
}
