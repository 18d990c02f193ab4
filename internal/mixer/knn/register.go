package knn

import (
	"encoding/gob"

	"lightmix/internal/mixer"
)

func init() {
	gob.Register(&KNN{})
	mixer.Register("knn", func(cfg mixer.Config) (mixer.Mixer, error) {
		return New(cfg)
	})
}
