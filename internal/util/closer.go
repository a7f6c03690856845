package util

import (
	"context"
	"io"

	"github.com/go-kratos/kratos/v2/log"
)

// CloseOnCancel closes closer once ctx is done. Pumps blocked in Read or
// Write on closer return when that happens.
func CloseOnCancel(ctx context.Context, closer io.Closer, tag string) {
	go func() {
		<-ctx.Done()

		log.Debugf("[util.CloseOnCancel] %s start to close", tag)

		if err := closer.Close(); err != nil {
			log.Debugf("[util.CloseOnCancel] %s close failed. %+v", tag, err)
		}
	}()
}
