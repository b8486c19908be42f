package vector

import (
	"github.com/sw965/omw/slicesx"
)

func Argmax(data []float32) int {
	idxs := slicesx.Argsort(data)
	return idxs[len(idxs)-1]
}
