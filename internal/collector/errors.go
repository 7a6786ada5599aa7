package collector

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	ErrCollection = errors.ErrCollectionFailed
	ErrUnknown    = errors.ErrUnknownCollector
)

type collectionFailure struct {
	Collector string
	Error     string
}

func collectionError(id string, err error) error {
	if errors.IsCollection(err) {
		return err
	}

	return errors.New().Wrap(ErrCollection, err).WithData(collectionFailure{
		Collector: id,
		Error:     err.Error(),
	})
}
