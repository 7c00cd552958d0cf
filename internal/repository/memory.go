package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/google/uuid"
)

// MemoryDevicesRepo: 用于 DB 未就绪时的联测和单元测试
// - IDs 使用 uuid
// - 维护与 Postgres 实现相同的唯一约束语义（mac_address / client_id）
type MemoryDevicesRepo struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device // deviceID -> device
}

func NewMemoryDevicesRepo() *MemoryDevicesRepo {
	return &MemoryDevicesRepo{devices: map[string]*domain.Device{}}
}

var _ DevicesRepository = (*MemoryDevicesRepo)(nil)

func (r *MemoryDevicesRepo) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryDevicesRepo) GetDeviceByMAC(_ context.Context, macAddress string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.MACAddress == macAddress {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryDevicesRepo) GetDeviceByClientID(_ context.Context, clientID string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.ClientID == clientID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryDevicesRepo) InsertDevice(_ context.Context, device *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.MACAddress == device.MACAddress || d.ClientID == device.ClientID {
			return fmt.Errorf("device mac=%s client_id=%s: %w", device.MACAddress, device.ClientID, domain.ErrConflict)
		}
	}
	if device.DeviceID == "" {
		device.DeviceID = uuid.New().String()
	}
	if device.Status == "" {
		device.Status = domain.DeviceStatusInactive
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now
	cp := *device
	r.devices[device.DeviceID] = &cp
	return nil
}

func (r *MemoryDevicesRepo) UpdateDeviceStatus(_ context.Context, deviceID string, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	d.Status = status
	d.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryDevicesRepo) BindDeviceOwner(_ context.Context, deviceID string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	d.OwnerUserID.String = userID
	d.OwnerUserID.Valid = true
	d.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryDevicesRepo) ListDevices(_ context.Context, page, size int) ([]*domain.Device, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}

	all := make([]*domain.Device, 0, len(r.devices))
	for _, d := range r.devices {
		cp := *d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// MemoryActivationCodesRepo 激活码内存实现（与 Postgres 实现相同的事务语义，由互斥锁保证）
type MemoryActivationCodesRepo struct {
	mu      sync.Mutex
	codes   map[string]*domain.ActivationCode // codeID -> code
	devices *MemoryDevicesRepo                // 事务内设备状态变更
}

func NewMemoryActivationCodesRepo(devices *MemoryDevicesRepo) *MemoryActivationCodesRepo {
	return &MemoryActivationCodesRepo{
		codes:   map[string]*domain.ActivationCode{},
		devices: devices,
	}
}

var _ ActivationCodesRepository = (*MemoryActivationCodesRepo)(nil)

func (r *MemoryActivationCodesRepo) GetCode(_ context.Context, code string) (*domain.ActivationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.ActivationCode
	for _, c := range r.codes {
		if c.Code != code {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryActivationCodesRepo) GetValidCodeByDevice(_ context.Context, deviceID string, now time.Time) (*domain.ActivationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.ActivationCode
	for _, c := range r.codes {
		if c.DeviceID != deviceID || c.Status != domain.ActivationStatusValid || !c.ExpireTime.After(now) {
			continue
		}
		if latest == nil || c.ExpireTime.After(latest.ExpireTime) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryActivationCodesRepo) IssueCode(ctx context.Context, code *domain.ActivationCode) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// valid 码之间唯一
	for _, c := range r.codes {
		if c.Code == code.Code && c.Status == domain.ActivationStatusValid {
			return nil, fmt.Errorf("activation code %s: %w", code.Code, domain.ErrConflict)
		}
	}

	var expired []string
	for _, c := range r.codes {
		if c.DeviceID == code.DeviceID && c.Status == domain.ActivationStatusValid {
			c.Status = domain.ActivationStatusExpired
			expired = append(expired, c.Code)
		}
	}

	if code.CodeID == "" {
		code.CodeID = uuid.New().String()
	}
	if code.Status == "" {
		code.Status = domain.ActivationStatusValid
	}
	code.CreatedAt = time.Now()
	cp := *code
	r.codes[code.CodeID] = &cp

	if err := r.devices.UpdateDeviceStatus(ctx, code.DeviceID, domain.DeviceStatusWaiting); err != nil {
		delete(r.codes, code.CodeID)
		return nil, err
	}
	return expired, nil
}

func (r *MemoryActivationCodesRepo) UpdateCodeStatus(_ context.Context, codeID string, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID]
	if !ok {
		return fmt.Errorf("activation code %s: %w", codeID, domain.ErrNotFound)
	}
	c.Status = status
	return nil
}

func (r *MemoryActivationCodesRepo) RedeemCode(ctx context.Context, codeID, deviceID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID]
	if !ok || c.Status != domain.ActivationStatusValid {
		return fmt.Errorf("activation code %s is not valid: %w", codeID, domain.ErrInvalidState)
	}
	c.Status = domain.ActivationStatusUsed
	if err := r.devices.UpdateDeviceStatus(ctx, deviceID, domain.DeviceStatusActive); err != nil {
		c.Status = domain.ActivationStatusValid
		return err
	}
	return r.devices.BindDeviceOwner(ctx, deviceID, userID)
}

func (r *MemoryActivationCodesRepo) ListExpiredValidCodes(_ context.Context, now time.Time, limit int) ([]*domain.ActivationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 500
	}
	var out []*domain.ActivationCode
	for _, c := range r.codes {
		if c.Status == domain.ActivationStatusValid && c.ExpireTime.Before(now) {
			cp := *c
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// MemoryAccessTokensRepo 访问令牌内存实现
type MemoryAccessTokensRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.AccessToken // tokenID -> token
}

func NewMemoryAccessTokensRepo() *MemoryAccessTokensRepo {
	return &MemoryAccessTokensRepo{tokens: map[string]*domain.AccessToken{}}
}

var _ AccessTokensRepository = (*MemoryAccessTokensRepo)(nil)

func (r *MemoryAccessTokensRepo) GetToken(_ context.Context, token string) (*domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryAccessTokensRepo) GetTokenByID(_ context.Context, tokenID string) (*domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("access token %s: %w", tokenID, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryAccessTokensRepo) GetValidTokenByDevice(_ context.Context, deviceID string, now time.Time) (*domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.AccessToken
	for _, t := range r.tokens {
		if t.DeviceID != deviceID || t.IsRevoked || !t.ExpireTime.After(now) {
			continue
		}
		if latest == nil || t.ExpireTime.After(latest.ExpireTime) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryAccessTokensRepo) IssueToken(_ context.Context, token *domain.AccessToken) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var revoked []string
	for _, t := range r.tokens {
		if t.DeviceID == token.DeviceID && !t.IsRevoked {
			t.IsRevoked = true
			revoked = append(revoked, t.Token)
		}
	}

	if token.TokenID == "" {
		token.TokenID = uuid.New().String()
	}
	token.CreatedAt = time.Now()
	cp := *token
	r.tokens[token.TokenID] = &cp
	return revoked, nil
}

func (r *MemoryAccessTokensRepo) RevokeToken(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[tokenID]; ok {
		t.IsRevoked = true
	}
	return nil
}

func (r *MemoryAccessTokensRepo) RevokeAllByDevice(_ context.Context, deviceID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var revoked []string
	for _, t := range r.tokens {
		if t.DeviceID == deviceID && !t.IsRevoked {
			t.IsRevoked = true
			revoked = append(revoked, t.Token)
		}
	}
	return revoked, nil
}

func (r *MemoryAccessTokensRepo) ListExpiredActiveTokens(_ context.Context, now time.Time, limit int) ([]*domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 500
	}
	var out []*domain.AccessToken
	for _, t := range r.tokens {
		if !t.IsRevoked && t.ExpireTime.Before(now) {
			cp := *t
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryAccessTokensRepo) ListTokensByDevice(_ context.Context, deviceID string) ([]*domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AccessToken
	for _, t := range r.tokens {
		if t.DeviceID == deviceID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
