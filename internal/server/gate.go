package server

import (
	"context"
	"log/slog"

	"github.com/BERNARDO31P/Password-Safe/internal/crypto"
	"github.com/BERNARDO31P/Password-Safe/internal/store"
)

// rootUserID is the bootstrap administrator. It can never be edited,
// suspended or deleted through the API.
const rootUserID = 1

// requireEnvelope checks that the user holds a live envelope for the
// organization. Membership alone is visibility, not capability: a member row
// without an envelope is a dangling grant, so it is removed on sight and the
// request still fails.
func (s *Server) requireEnvelope(ctx context.Context, user *store.User, orgID int64) error {
	has, err := s.store.HasEnvelope(ctx, user.ID, orgID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	member, err := s.store.IsMember(ctx, user.ID, orgID)
	if err != nil {
		return err
	}
	if member {
		slog.Warn("removing dangling membership",
			"user_id", user.ID,
			"org_id", orgID,
		)
		if err := s.store.RemoveMember(ctx, user.ID, orgID); err != nil {
			return err
		}
	}
	return store.ErrNoEnvelope
}

// verifySignature checks a detached signature against the signer's
// registered signing key. A failure is logged as a security event: either
// the payload was altered in transit or someone is submitting under a
// foreign identity.
func (s *Server) verifySignature(ctx context.Context, data, sign string, signer *store.User) error {
	pub, err := crypto.ParseSignPublicKey(signer.SignPublicKey)
	if err != nil {
		return err
	}
	if err := crypto.VerifyDetached(data, sign, pub); err != nil {
		slog.Warn("security event: signature verification failed",
			"signer_id", signer.ID,
		)
		return ErrBadSignature
	}
	return nil
}

// requireNotSelfOrRoot guards destructive admin actions. Admins cannot
// target themselves or the root account, regardless of privilege.
func requireNotSelfOrRoot(caller *store.User, targetID int64) bool {
	return targetID != caller.ID && targetID != rootUserID
}
