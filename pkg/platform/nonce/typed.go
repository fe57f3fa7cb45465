// pkg/platform/nonce/typed.go
package nonce

import (
	"context"
)

// EmbedSession correlates the editor's outbound third-party login toward the
// repository with the authentication request the repository sends back.
type EmbedSession struct {
	User      string
	DataToken string
	NodeID    string
	Issuer    string
}

// DeepLinkNonce remembers the nonce placed in an outgoing deep-linking request.
type DeepLinkNonce struct {
	Nonce string
}

// LaunchState binds an OIDC login redirect to the launch POST that follows.
type LaunchState struct {
	Nonce  string
	Issuer string
}

func PutEmbedSession(ctx context.Context, s Store, v EmbedSession) (string, error) {
	return s.Put(ctx, Record{Kind: KindEmbedSession, Payload: map[string]string{
		"user": v.User, "dataToken": v.DataToken, "nodeId": v.NodeID, "iss": v.Issuer,
	}})
}

// TakeEmbedSession consumes an embed session. A record of another kind or
// with missing fields is consumed too and reported as ErrMalformed.
func TakeEmbedSession(ctx context.Context, s Store, id string) (EmbedSession, error) {
	p, err := take(ctx, s, id, KindEmbedSession, "user", "dataToken", "nodeId", "iss")
	if err != nil {
		return EmbedSession{}, err
	}
	return EmbedSession{User: p["user"], DataToken: p["dataToken"], NodeID: p["nodeId"], Issuer: p["iss"]}, nil
}

func PutDeepLinkNonce(ctx context.Context, s Store, v DeepLinkNonce) (string, error) {
	return s.Put(ctx, Record{Kind: KindDeepLink, Payload: map[string]string{"nonce": v.Nonce}})
}

func TakeDeepLinkNonce(ctx context.Context, s Store, id string) (DeepLinkNonce, error) {
	p, err := take(ctx, s, id, KindDeepLink, "nonce")
	if err != nil {
		return DeepLinkNonce{}, err
	}
	return DeepLinkNonce{Nonce: p["nonce"]}, nil
}

func PutLaunchState(ctx context.Context, s Store, v LaunchState) (string, error) {
	return s.Put(ctx, Record{Kind: KindLaunchState, Payload: map[string]string{"nonce": v.Nonce, "iss": v.Issuer}})
}

func TakeLaunchState(ctx context.Context, s Store, id string) (LaunchState, error) {
	p, err := take(ctx, s, id, KindLaunchState, "nonce", "iss")
	if err != nil {
		return LaunchState{}, err
	}
	return LaunchState{Nonce: p["nonce"], Issuer: p["iss"]}, nil
}

func take(ctx context.Context, s Store, id string, kind Kind, fields ...string) (map[string]string, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	rec, err := s.TakeOnce(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Kind != kind {
		return nil, ErrMalformed
	}
	for _, f := range fields {
		if rec.Payload[f] == "" {
			return nil, ErrMalformed
		}
	}
	return rec.Payload, nil
}
