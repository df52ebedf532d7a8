package session

import (
	"context"
	"fmt"

	"github.com/truenicoco/slidge-sub000/internal/archive"
	"github.com/truenicoco/slidge-sub000/internal/model"
)

// HandleProtocolMessage sends a message written by the user to the legacy
// network and returns the legacy id it was given.
func (s *Session) HandleProtocolMessage(ctx context.Context, msg ProtocolMessage) (string, error) {
	peer, err := s.resolveLocal(ctx, msg.Kind, msg.To)
	if err != nil {
		return "", fmt.Errorf("resolve peer: %w", err)
	}
	conv := peer.Ref().ConversationID()

	out := OutgoingMessage{Body: msg.Body, Reactions: msg.Reactions}
	refs := []struct {
		protocolID string
		legacyID   *string
	}{
		{msg.Replace, &out.Replace},
		{msg.Retract, &out.Retract},
		{msg.ReactTo, &out.ReactTo},
	}
	for _, ref := range refs {
		if ref.protocolID == "" {
			continue
		}
		if *ref.legacyID, err = s.LegacyMessageID(ctx, conv, ref.protocolID); err != nil {
			return "", err
		}
	}

	if msg.ReplyTo != "" {
		out.ReplyTo, err = s.LegacyMessageID(ctx, conv, msg.ReplyTo)
		if model.IsNotFound(err) {
			s.logger.Debug("reply target unknown, dropping reference", "conversation", conv, "protocol_id", msg.ReplyTo)
			err = nil
		}
		if err != nil {
			return "", err
		}
	}

	if msg.Thread != "" {
		if out.Thread, err = s.legacyThread(ctx, peer, conv, msg.Thread); err != nil {
			return "", err
		}
	}

	legacyID, err := s.adapter.Send(ctx, peer, out)
	if err != nil {
		return "", fmt.Errorf("send to legacy network: %w", err)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if legacyID != "" && msg.ID != "" {
			if err := s.correlator.Record(ctx, conv, legacyID, msg.ID); err != nil {
				return err
			}
		}
		if peer.Ref().Kind != model.KindGroup {
			return nil
		}
		_, _, err := s.archive.Append(ctx, conv, archive.Message{
			ID:         msg.ID,
			Sender:     msg.Sender,
			Timestamp:  msg.Timestamp,
			Body:       msg.Body,
			Retraction: msg.Retract != "",
			Reaction:   msg.ReactTo != "",
			NoStore:    msg.NoStore,
			Payload:    msg.Payload,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("record sent message: %w", err)
	}
	return legacyID, nil
}

// legacyThread maps a protocol thread to its legacy thread, creating and
// recording the mapping the first time the thread is seen.
func (s *Session) legacyThread(ctx context.Context, peer Peer, conv, protocolThread string) (string, error) {
	legacyThread, ok, err := s.correlator.LookupThread(ctx, conv, protocolThread)
	if err != nil {
		return "", err
	}
	if ok {
		return legacyThread, nil
	}

	legacyThread = protocolThread
	if tc, ok := s.adapter.(ThreadCreator); ok {
		created, err := tc.CreateThread(ctx, peer, protocolThread)
		if err != nil {
			return "", fmt.Errorf("create thread: %w", err)
		}
		if created != "" {
			legacyThread = created
		}
	}
	if err := s.correlator.RecordThread(ctx, conv, legacyThread, protocolThread); err != nil {
		return "", err
	}
	return legacyThread, nil
}

// HandleLegacyMessage prepares the delivery of a legacy message to the
// user: it allocates protocol ids for every copy, translates references and
// records everything in one transaction.
func (s *Session) HandleLegacyMessage(ctx context.Context, msg LegacyMessage) (Delivery, error) {
	peer, err := s.resolveLegacy(ctx, msg.Kind, msg.From)
	if err != nil {
		return Delivery{}, fmt.Errorf("resolve peer: %w", err)
	}
	conv := peer.Ref().ConversationID()
	d := Delivery{Peer: peer, ProtocolIDs: []string{}, Targets: []string{}}

	primary, known, err := s.primaryProtocolID(ctx, conv, msg.ID)
	if err != nil {
		return Delivery{}, err
	}
	d.ProtocolIDs = append(d.ProtocolIDs, primary)
	for i := 1; i < msg.Copies; i++ {
		d.ProtocolIDs = append(d.ProtocolIDs, s.ids.Generate())
	}

	for _, target := range []string{msg.Replace, msg.Retract, msg.ReactTo} {
		if target == "" {
			continue
		}
		targets, err := s.protocolTargets(ctx, conv, target)
		if err != nil {
			return Delivery{}, err
		}
		d.Targets = append(d.Targets, targets...)
	}

	if msg.ReplyTo != "" {
		d.ReplyTo, err = s.ProtocolMessageID(ctx, conv, msg.ReplyTo)
		if model.IsNotFound(err) {
			s.logger.Debug("reply target unknown, dropping reference", "conversation", conv, "legacy_id", msg.ReplyTo)
			err = nil
		}
		if err != nil {
			return Delivery{}, err
		}
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if msg.Thread != "" {
			thread, ok, err := s.correlator.LookupProtocolThread(ctx, conv, msg.Thread)
			if err != nil {
				return err
			}
			if !ok {
				thread = msg.Thread
				if err := s.correlator.RecordThread(ctx, conv, msg.Thread, thread); err != nil {
					return err
				}
			}
			d.Thread = thread
		}

		if msg.ID != "" {
			if !known {
				if err := s.correlator.Record(ctx, conv, msg.ID, primary); err != nil {
					return err
				}
			}
			for _, echo := range d.ProtocolIDs[1:] {
				if err := s.correlator.AddEcho(ctx, conv, msg.ID, echo); err != nil {
					return err
				}
			}
		}

		if peer.Ref().Kind != model.KindGroup {
			return nil
		}
		_, archived, err := s.archive.Append(ctx, conv, archive.Message{
			ID:         primary,
			Sender:     msg.Sender,
			Timestamp:  msg.Timestamp,
			Body:       msg.Body,
			Retraction: msg.Retract != "",
			Reaction:   msg.ReactTo != "",
			NoStore:    msg.NoStore,
			Payload:    msg.Payload,
		})
		d.Archived = archived
		return err
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("record received message: %w", err)
	}
	return d, nil
}

// primaryProtocolID returns the protocol id of a legacy message: the
// recorded one when the message was seen before, else its codec
// translation, else a fresh id. known reports a recorded id.
func (s *Session) primaryProtocolID(ctx context.Context, conv, legacyID string) (id string, known bool, err error) {
	if legacyID == "" {
		return s.ids.Generate(), false, nil
	}
	id, ok, err := s.correlator.LookupProtocol(ctx, conv, legacyID)
	if err != nil {
		return "", false, err
	}
	if ok {
		return id, true, nil
	}
	if s.codec != nil {
		if id, err := s.codec.ToProtocol(legacyID); err == nil && id != "" {
			return id, false, nil
		}
	}
	return s.ids.Generate(), false, nil
}

// protocolTargets returns every protocol id a legacy message was delivered
// as, falling back to its codec translation.
func (s *Session) protocolTargets(ctx context.Context, conv, legacyID string) ([]string, error) {
	all, err := s.correlator.AllProtocolIDs(ctx, conv, legacyID)
	if err != nil {
		return nil, err
	}
	if len(all) > 0 {
		return all, nil
	}
	id, err := s.ProtocolMessageID(ctx, conv, legacyID)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// LegacyMessageID translates a protocol message id of a conversation,
// trying the correlator and then the codec. Returns NOT_FOUND when both miss.
func (s *Session) LegacyMessageID(ctx context.Context, conversationID, protocolID string) (string, error) {
	id, ok, err := s.correlator.LookupLegacy(ctx, conversationID, protocolID)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	if s.codec != nil {
		if id, err := s.codec.ToLegacy(protocolID); err == nil && id != "" {
			return id, nil
		}
	}
	return "", model.NewNotFoundError("no legacy id for protocol message", protocolID)
}

// ProtocolMessageID translates a legacy message id of a conversation,
// trying the correlator and then the codec. Returns NOT_FOUND when both miss.
func (s *Session) ProtocolMessageID(ctx context.Context, conversationID, legacyID string) (string, error) {
	id, ok, err := s.correlator.LookupProtocol(ctx, conversationID, legacyID)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	if s.codec != nil {
		if id, err := s.codec.ToProtocol(legacyID); err == nil && id != "" {
			return id, nil
		}
	}
	return "", model.NewNotFoundError("no protocol id for legacy message", legacyID)
}
