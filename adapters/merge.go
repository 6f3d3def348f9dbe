package adapters

import (
	"context"
	"io"

	"github.com/c2h5oh/datasize"
	"github.com/pdok/geoflow/collections"
	"github.com/pdok/geoflow/engine"
	"github.com/pdok/geoflow/metrics"
)

// MergeChunks combines consecutive collections as long as the result stays within chunkByteSize.
// A collection that alone exceeds the size is passed on unchanged. Empty collections are dropped and
// features are never reordered.
func MergeChunks[G collections.Geometry](src engine.Stream[*collections.FeatureCollection[G]], chunkByteSize datasize.ByteSize) engine.Stream[*collections.FeatureCollection[G]] {
	limit := int(chunkByteSize.Bytes())
	var (
		accu   *collections.FeatureCollection[G]
		queued *collections.FeatureCollection[G]
		ended  bool
	)
	emit := func(c *collections.FeatureCollection[G]) (*collections.FeatureCollection[G], error) {
		metrics.MergedChunks.Inc()
		return c, nil
	}
	return engine.Terminating(func(ctx context.Context) (*collections.FeatureCollection[G], error) {
		if queued != nil {
			out := queued
			queued = nil
			return emit(out)
		}
		for !ended {
			next, err := src.Next(ctx)
			if engine.IsEOF(err) {
				ended = true
				break
			}
			if err != nil {
				accu = nil
				return nil, err
			}
			if next.IsEmpty() {
				continue
			}
			switch {
			case accu == nil && next.ByteSize() >= limit:
				return emit(next)
			case accu == nil:
				accu = next
			case accu.ByteSize()+next.PayloadByteSize() > limit:
				out := accu
				accu = nil
				if next.ByteSize() >= limit {
					queued = next
				} else {
					accu = next
				}
				return emit(out)
			default:
				if accu, err = accu.Append(next); err != nil {
					accu = nil
					return nil, err
				}
			}
			if accu.ByteSize() >= limit {
				out := accu
				accu = nil
				return emit(out)
			}
		}
		if accu != nil {
			out := accu
			accu = nil
			return emit(out)
		}
		return nil, io.EOF
	})
}
