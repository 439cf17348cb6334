package store

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNoIdentity = errors.New("no stored identity")

const identityRow = 1

type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// Load returns the stored keypair or ErrNoIdentity.
func (s *IdentityStore) Load(ctx context.Context) (*identity.Keypair, error) {
	var row Identity
	err := s.db.WithContext(ctx).First(&row, identityRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, err
	}
	return identity.Import(row.Keypair)
}

// Save stores kp, replacing any previous identity.
func (s *IdentityStore) Save(ctx context.Context, kp *identity.Keypair) error {
	encoded, err := kp.Export()
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"keypair"}),
	}).Create(&Identity{ID: identityRow, Keypair: encoded}).Error
}

// LoadOrGenerate returns the stored keypair, generating and saving one on
// first use. created reports whether a new keypair was made.
func (s *IdentityStore) LoadOrGenerate(ctx context.Context) (kp *identity.Keypair, created bool, err error) {
	kp, err = s.Load(ctx)
	if err == nil {
		return kp, false, nil
	}
	if !errors.Is(err, ErrNoIdentity) {
		return nil, false, err
	}

	kp, err = identity.Generate()
	if err != nil {
		return nil, false, err
	}
	if err := s.Save(ctx, kp); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

// PeerStore is the persistent peer book.
type PeerStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPeerStore(db *gorm.DB) *PeerStore {
	return &PeerStore{db: db, now: time.Now}
}

// Remember records that id was seen now.
func (s *PeerStore) Remember(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen"}),
	}).Create(&Peer{ID: id, LastSeen: s.now().Unix()}).Error
}

// Block marks id as never to be admitted again.
func (s *PeerStore) Block(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"blocked", "last_seen"}),
	}).Create(&Peer{ID: id, Blocked: true, LastSeen: s.now().Unix()}).Error
}

func (s *PeerStore) Blocked(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Peer{}).
		Where("blocked = ?", true).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// Known returns the unblocked peers, most recently seen first.
func (s *PeerStore) Known(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Peer{}).
		Where("blocked = ?", false).
		Order("last_seen desc, id").
		Pluck("id", &ids).Error
	return ids, err
}
