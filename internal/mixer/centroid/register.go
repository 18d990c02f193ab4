package centroid

import (
	"encoding/gob"

	"lightmix/internal/mixer"
)

func init() {
	gob.Register(&Centroid{})
	mixer.Register("centroid", func(cfg mixer.Config) (mixer.Mixer, error) {
		return New(cfg)
	})
}
