package bridge

import (
	"context"
)

// List returns the names of the user's files in server order. A user without
// a directory, or with an empty one, has an empty listing.
// Corresponds to the command:
//
//	LIST <user>
func (b *Bridge) List(ctx context.Context, user string) ([]string, error) {
	if err := checkUser(user); err != nil {
		return nil, wrapClientError(err, user, "List")
	}
	s, err := b.open(ctx, user, "list")
	if err != nil {
		return nil, wrapClientError(err, user, "List")
	}
	defer s.Close()

	files, err := s.List()
	if err != nil {
		s.log.WithError(err).Error("list failed")
		return nil, wrapClientError(err, user, "List")
	}
	s.log.WithField("count", len(files)).Info("listed")
	return files, nil
}
