package bridge

import (
	"context"
)

// Delete removes one file. A file the server could not delete is not an error:
// the result carries Success=false and the server's message.
// Corresponds to the command:
//
//	DELETE_FROM <user> <name>
func (b *Bridge) Delete(ctx context.Context, user, name string) (DeleteResult, error) {
	if err := checkUser(user); err != nil {
		return DeleteResult{}, wrapClientError(err, user, "Delete(%s)", name)
	}
	if err := checkName(name); err != nil {
		return DeleteResult{}, wrapClientError(err, user, "Delete(%s)", name)
	}

	s, err := b.open(ctx, user, "delete")
	if err != nil {
		return DeleteResult{}, wrapClientError(err, user, "Delete(%s)", name)
	}
	defer s.Close()

	result, err := s.DeleteFrom(name)
	if err != nil {
		s.log.WithError(err).Error("delete failed")
		return DeleteResult{}, wrapClientError(err, user, "Delete(%s)", name)
	}
	s.log.WithField("file", name).WithField("success", result.Success).Info(result.Message)
	return result, nil
}
