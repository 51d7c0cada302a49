// Package identity reconciles sender identities across the phone and LID
// namespaces into one Contact and ContactLink per inbox.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

// Resolver finds, creates, migrates and refreshes contacts.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
}

func NewResolver(log *slog.Logger, s store.Store) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: log.With(slog.String("component", "identity_resolver")),
	}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Contact store.Contact
	Link    store.ContactLink
	// Migrated is set when an existing link was moved to the LID source id.
	Migrated bool
	Created  bool
}

// SourceID is the link source id for an identity: the LID's numeric form,
// or the phone when the provider sent no LID at all.
func SourceID(id inbound.Identity) string {
	if id.SourceID != "" {
		return id.SourceID
	}
	return id.Phone
}

// Resolve returns the contact and link for id in the channel's inbox.
func (r *Resolver) Resolve(ctx context.Context, ch inbound.Channel, id inbound.Identity) (Resolution, error) {
	if id.Empty() {
		return Resolution{}, inbound.ErrNoIdentity
	}
	sourceID := SourceID(id)

	var res Resolution
	if id.Phone != "" && sourceID != id.Phone {
		migrated, err := r.migrate(ctx, ch, id, sourceID)
		if err != nil {
			return Resolution{}, fmt.Errorf("migrate contact link: %w", err)
		}
		res.Migrated = migrated
	}

	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.LockSourceID(ctx, ch.InboxID, sourceID); err != nil {
			return err
		}
		contact, link, created, err := r.findOrCreate(ctx, tx, ch, id, sourceID)
		if err != nil {
			return err
		}
		contact, err = r.reconcile(ctx, tx, ch, id, contact)
		if err != nil {
			return err
		}
		res.Contact, res.Link, res.Created = contact, link, created
		return nil
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve contact: %w", err)
	}
	return res, nil
}

// migrate moves a link created before the LID was known (keyed by phone, or
// owned by the contact holding the phone) onto the LID source id. The link
// and contact change together or not at all.
func (r *Resolver) migrate(ctx context.Context, ch inbound.Channel, id inbound.Identity, sourceID string) (bool, error) {
	migrated := false
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.LockSourceID(ctx, ch.InboxID, sourceID); err != nil {
			return err
		}

		link, err := r.legacyLink(ctx, tx, ch, id)
		if err != nil || link.ID == "" || link.SourceID == sourceID {
			return err
		}

		if _, err := tx.LinkBySourceID(ctx, ch.InboxID, sourceID); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		contact, err := tx.ContactByID(ctx, link.ContactID)
		if err != nil {
			return err
		}

		if id.Identifier != "" {
			owner, err := tx.ContactByIdentifier(ctx, ch.AccountID, id.Identifier)
			if err == nil && owner.ID != contact.ID {
				return nil
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		owner, err := tx.ContactByPhone(ctx, ch.AccountID, id.E164())
		if err == nil && owner.ID != contact.ID {
			return nil
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := tx.UpdateLinkSourceID(ctx, link.ID, sourceID); err != nil {
			return err
		}
		if id.Identifier != "" {
			contact.Identifier = id.Identifier
		}
		contact.PhoneNumber = id.E164()
		if err := tx.UpdateContact(ctx, contact); err != nil {
			return err
		}

		r.logger.Info("migrated contact link to lid",
			slog.Int64("inbox_id", ch.InboxID),
			slog.String("contact_id", contact.ID),
			slog.String("from", link.SourceID),
			slog.String("to", sourceID))
		migrated = true
		return nil
	})
	return migrated, err
}

// legacyLink finds the link to migrate. A zero link with a nil error means
// there is nothing to do.
func (r *Resolver) legacyLink(ctx context.Context, tx store.Tx, ch inbound.Channel, id inbound.Identity) (store.ContactLink, error) {
	link, err := tx.LinkBySourceID(ctx, ch.InboxID, id.Phone)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.ContactLink{}, err
	}
	if !id.MigrateByPhoneOwner {
		return store.ContactLink{}, nil
	}

	owner, err := tx.ContactByPhone(ctx, ch.AccountID, id.E164())
	if errors.Is(err, store.ErrNotFound) {
		return store.ContactLink{}, nil
	} else if err != nil {
		return store.ContactLink{}, err
	}
	link, err = tx.LinkByContact(ctx, ch.InboxID, owner.ID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ContactLink{}, nil
	}
	return link, err
}

func (r *Resolver) findOrCreate(ctx context.Context, tx store.Tx, ch inbound.Channel, id inbound.Identity, sourceID string) (store.Contact, store.ContactLink, bool, error) {
	link, err := tx.LinkBySourceID(ctx, ch.InboxID, sourceID)
	if err == nil {
		contact, err := tx.ContactByID(ctx, link.ContactID)
		return contact, link, false, err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Contact{}, store.ContactLink{}, false, err
	}

	contact, created, err := r.findOrCreateContact(ctx, tx, ch, id)
	if err != nil {
		return store.Contact{}, store.ContactLink{}, false, err
	}
	link = store.ContactLink{
		InboxID:   ch.InboxID,
		ContactID: contact.ID,
		SourceID:  sourceID,
	}
	if err := tx.CreateLink(ctx, &link); err != nil {
		return store.Contact{}, store.ContactLink{}, false, err
	}
	return contact, link, created, nil
}

func (r *Resolver) findOrCreateContact(ctx context.Context, tx store.Tx, ch inbound.Channel, id inbound.Identity) (store.Contact, bool, error) {
	if id.Identifier != "" {
		c, err := tx.ContactByIdentifier(ctx, ch.AccountID, id.Identifier)
		if err == nil {
			c, err = tx.ContactByID(ctx, c.ID)
			return c, false, err
		} else if !errors.Is(err, store.ErrNotFound) {
			return store.Contact{}, false, err
		}
	}
	if id.Phone != "" {
		c, err := tx.ContactByPhone(ctx, ch.AccountID, id.E164())
		if err == nil {
			c, err = tx.ContactByID(ctx, c.ID)
			return c, false, err
		} else if !errors.Is(err, store.ErrNotFound) {
			return store.Contact{}, false, err
		}
	}

	c := store.Contact{
		AccountID:   ch.AccountID,
		Name:        id.Name,
		PhoneNumber: id.E164(),
		Identifier:  id.Identifier,
	}
	if c.Name == "" {
		c.Name = SourceID(id)
	}
	if err := tx.CreateContact(ctx, &c); err != nil {
		return store.Contact{}, false, err
	}
	return c, true, nil
}

// reconcile adds a missing phone, refreshes the identifier, and replaces
// auto-assigned placeholder names. A present phone is never overwritten, and
// fields owned by another contact are left alone.
func (r *Resolver) reconcile(ctx context.Context, tx store.Tx, ch inbound.Channel, id inbound.Identity, c store.Contact) (store.Contact, error) {
	changed := false

	if c.PhoneNumber == "" && id.Phone != "" {
		owner, err := tx.ContactByPhone(ctx, ch.AccountID, id.E164())
		switch {
		case errors.Is(err, store.ErrNotFound) || (err == nil && owner.ID == c.ID):
			c.PhoneNumber = id.E164()
			changed = true
		case err != nil:
			return c, err
		default:
			r.logger.Warn("phone number owned by another contact",
				slog.String("contact_id", c.ID), slog.String("owner_id", owner.ID))
		}
	}

	if id.Identifier != "" && c.Identifier != id.Identifier {
		owner, err := tx.ContactByIdentifier(ctx, ch.AccountID, id.Identifier)
		switch {
		case errors.Is(err, store.ErrNotFound) || (err == nil && owner.ID == c.ID):
			c.Identifier = id.Identifier
			changed = true
		case err != nil:
			return c, err
		default:
			r.logger.Warn("identifier owned by another contact",
				slog.String("contact_id", c.ID), slog.String("owner_id", owner.ID))
		}
	}

	if id.Name != "" && c.Name != id.Name && isPlaceholder(c.Name, id.Placeholders) {
		c.Name = id.Name
		changed = true
	}

	if !changed {
		return c, nil
	}
	if err := tx.UpdateContact(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

func isPlaceholder(name string, placeholders []string) bool {
	if name == "" {
		return true
	}
	return slices.Contains(placeholders, name)
}
