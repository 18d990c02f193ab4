package sgd

import (
	"encoding/gob"

	"lightmix/internal/mixer"
)

func init() {
	gob.Register(&SGD{})
	mixer.Register("sgd", func(cfg mixer.Config) (mixer.Mixer, error) {
		return New(cfg)
	})
}
