// Package appointment turns an accepted booking into a Zoom meeting and
// invites both parties.
package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetribe/ftw-time/internal/mailer"
	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/metrics"
	"github.com/sharetribe/ftw-time/internal/pkg/distlock"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
	"github.com/sharetribe/ftw-time/internal/storage"
	"github.com/sharetribe/ftw-time/internal/zoom"
)

var (
	// ErrProviderNotConnected means the provider never linked Zoom.
	ErrProviderNotConnected = errors.New("appointment: provider has not connected Zoom")
	// ErrIncomplete means the transaction lacks a provider, customer or booking.
	ErrIncomplete = errors.New("appointment: transaction is missing provider, customer or booking")
	// ErrInProgress means another request is accepting the same transaction.
	ErrInProgress = errors.New("appointment: accept already in progress")
)

// Marketplace is the operator-side API the service needs.
type Marketplace interface {
	ShowTransaction(ctx context.Context, id string, include ...string) (marketplace.Transaction, error)
	ShowUser(ctx context.Context, id string) (marketplace.User, error)
	UpdateUserProfile(ctx context.Context, id string, upd marketplace.ProfileUpdate) error
}

// Meetings creates Zoom meetings.
type Meetings interface {
	CreateMeeting(ctx context.Context, s zoom.Session, req zoom.MeetingRequest) (zoom.Meeting, zoom.Session, error)
}

// Inviter sends meeting invitations.
type Inviter interface {
	SendZoomMeetingInvitation(ctx context.Context, inv mailer.Invitation) error
}

// Service accepts appointments.
type Service struct {
	market Marketplace
	zoom   Meetings
	mail   Inviter
	store  storage.MeetingStore
	locks  distlock.Factory
	topic  string
}

// NewService wires the service. locks may be nil for single-instance use.
func NewService(market Marketplace, z Meetings, mail Inviter, store storage.MeetingStore, locks distlock.Factory, topic string) *Service {
	if locks == nil {
		locks = distlock.NewFactory(nil, nil, 0)
	}
	return &Service{market: market, zoom: z, mail: mail, store: store, locks: locks, topic: topic}
}

// Result is the outcome of Accept.
type Result struct {
	Meeting storage.Meeting
	// Reused is true when a previous accept already created the meeting.
	Reused bool
}

// Accept creates the meeting for transactionID and invites both parties.
// Repeated calls for the same transaction return the recorded meeting and
// send nothing.
func (s *Service) Accept(ctx context.Context, transactionID string) (Result, error) {
	var res Result
	err := distlock.Run(ctx, s.locks("appointment:accept:"+transactionID), func(ctx context.Context) error {
		var err error
		res, err = s.accept(ctx, transactionID)
		return err
	})

	switch {
	case err == nil && res.Reused:
		metrics.TrackAccept("reused")
	case err == nil:
		metrics.TrackAccept("ok")
	case errors.Is(err, distlock.ErrNotAcquired):
		metrics.TrackAccept("in_progress")
		return Result{}, ErrInProgress
	case errors.Is(err, ErrProviderNotConnected):
		metrics.TrackAccept("not_connected")
	default:
		metrics.TrackAccept("error")
	}
	return res, err
}

func (s *Service) accept(ctx context.Context, transactionID string) (Result, error) {
	if existing, err := s.store.GetMeeting(ctx, transactionID); err == nil {
		logger.Info("meeting already exists, reusing", "transaction_id", transactionID, "meeting_id", existing.MeetingID)
		return Result{Meeting: existing, Reused: true}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, err
	}

	tx, err := s.market.ShowTransaction(ctx, transactionID, "customer", "provider", "booking", "listing")
	if err != nil {
		return Result{}, fmt.Errorf("load transaction: %w", err)
	}
	if tx.Provider == nil || tx.Customer == nil || tx.Booking == nil {
		return Result{}, ErrIncomplete
	}

	provider, customer, booking := tx.Provider, tx.Customer, tx.Booking
	connected, _ := provider.Profile.PrivateData["isConnectZoom"].(bool)
	tokens, hasTokens := zoom.TokensFromData(provider.Profile.PrivateData["zoomData"])
	if !connected || !hasTokens {
		return Result{}, ErrProviderNotConnected
	}

	topic := s.topic
	if tx.Listing != nil && tx.Listing.Title != "" {
		topic = tx.Listing.Title
	}
	zm, _, err := s.zoom.CreateMeeting(ctx, zoom.Session{UserID: provider.ID, Tokens: tokens}, zoom.MeetingRequest{
		Topic:    topic,
		Start:    booking.Start,
		Duration: booking.Duration(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("create meeting: %w", err)
	}

	m := storage.Meeting{
		TransactionID: transactionID,
		ProviderID:    provider.ID,
		MeetingID:     zm.ID,
		JoinURL:       zm.JoinURL,
		Password:      zm.Password,
		StartTime:     booking.Start,
		Duration:      int(booking.Duration().Minutes()),
	}
	if err := s.store.SaveMeeting(ctx, m); err != nil {
		return Result{}, fmt.Errorf("record meeting: %w", err)
	}

	// The meeting is recorded; invitations go out even if the caller has gone.
	sendCtx := context.WithoutCancel(ctx)
	for _, to := range []*marketplace.User{customer, provider} {
		inv := mailer.Invitation{
			To:            to.Email,
			RecipientName: to.Profile.DisplayName,
			ProviderName:  provider.Profile.DisplayName,
			UserName:      customer.Profile.DisplayName,
			Start:         booking.Start,
			ZoomLink:      zm.JoinURL,
			Password:      zm.Password,
			TransactionID: transactionID,
		}
		if err := s.mail.SendZoomMeetingInvitation(sendCtx, inv); err != nil {
			logger.Error("invitation failed", "transaction_id", transactionID, "email", to.Email, "error", err)
		}
	}

	logger.Info("appointment accepted", "transaction_id", transactionID, "meeting_id", zm.ID)
	return Result{Meeting: m}, nil
}

// ProfileTokenSaver stores refreshed Zoom tokens in the owner's private
// data, keeping every other private key.
type ProfileTokenSaver struct {
	Market Marketplace
}

func (p ProfileTokenSaver) SaveZoomTokens(ctx context.Context, userID string, t zoom.Tokens) error {
	user, err := p.Market.ShowUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	private := marketplace.MergePrivateData(user.Profile.PrivateData, map[string]any{
		"isConnectZoom": true,
		"zoomData":      t.Map(),
	})
	return p.Market.UpdateUserProfile(ctx, userID, marketplace.ProfileUpdate{PrivateData: private})
}
