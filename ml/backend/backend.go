// Package backend bindet alle eingebauten Engines ein.
package backend

import (
	_ "github.com/nnhost/nnhost/ml/backend/ggml"
	_ "github.com/nnhost/nnhost/ml/backend/mlx"
)
