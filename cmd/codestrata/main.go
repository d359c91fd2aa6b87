// Command codestrata runs the source-tree service.
package main

import (
	"context"

	"github.com/dalemusser/codestrata/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
)

func main() {
	app.Run(context.Background(), bootstrap.Hooks)
}
