package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"wisefido-ota/internal/domain"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDevicesRepo(t *testing.T) (*PostgresDevicesRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresDevicesRepository(db), mock
}

func deviceRows(deviceID, mac, clientID, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"device_id", "mac_address", "client_id", "device_type", "device_name",
		"status", "owner_user_id", "created_at", "updated_at",
	}).AddRow(deviceID, mac, clientID, "esp32", "bedroom sensor", status, nil, now, now)
}

func TestGetDeviceByMAC_Found(t *testing.T) {
	repo, mock := setupDevicesRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM ota_devices WHERE mac_address = \$1`).
		WithArgs("AA:BB:CC:DD:EE:FF").
		WillReturnRows(deviceRows("d6b1e3b0-1111-4222-8333-444455556666", "AA:BB:CC:DD:EE:FF", "c-1", domain.DeviceStatusActive))

	device, err := repo.GetDeviceByMAC(context.Background(), "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", device.MACAddress)
	assert.Equal(t, domain.DeviceStatusActive, device.Status)
	assert.False(t, device.OwnerUserID.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceByMAC_AbsentReturnsNilNil(t *testing.T) {
	repo, mock := setupDevicesRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM ota_devices WHERE mac_address = \$1`).
		WithArgs("00:00:00:00:00:00").
		WillReturnError(sql.ErrNoRows)

	device, err := repo.GetDeviceByMAC(context.Background(), "00:00:00:00:00:00")
	require.NoError(t, err)
	assert.Nil(t, device)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDevice_NotFound(t *testing.T) {
	repo, mock := setupDevicesRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM ota_devices WHERE device_id = \$1::uuid`).
		WithArgs("d6b1e3b0-1111-4222-8333-444455556666").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetDevice(context.Background(), "d6b1e3b0-1111-4222-8333-444455556666")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDevice_AssignsIDAndDefaults(t *testing.T) {
	repo, mock := setupDevicesRepo(t)

	mock.ExpectExec(`INSERT INTO ota_devices`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	device := &domain.Device{MACAddress: "AA:BB:CC:DD:EE:F0", ClientID: "c-2", DeviceType: "esp32"}
	require.NoError(t, repo.InsertDevice(context.Background(), device))
	assert.NotEmpty(t, device.DeviceID)
	assert.Equal(t, domain.DeviceStatusInactive, device.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDevice_UniqueViolationIsConflict(t *testing.T) {
	repo, mock := setupDevicesRepo(t)

	mock.ExpectExec(`INSERT INTO ota_devices`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.InsertDevice(context.Background(), &domain.Device{MACAddress: "AA:BB:CC:DD:EE:F1", ClientID: "c-3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeviceStatus_NotFound(t *testing.T) {
	repo, mock := setupDevicesRepo(t)

	mock.ExpectExec(`UPDATE ota_devices SET status`).
		WithArgs("d6b1e3b0-1111-4222-8333-444455556666", domain.DeviceStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateDeviceStatus(context.Background(), "d6b1e3b0-1111-4222-8333-444455556666", domain.DeviceStatusActive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDevices_Paginates(t *testing.T) {
	repo, mock := setupDevicesRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ota_devices`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT (.+) FROM ota_devices ORDER BY created_at DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(2, 2).
		WillReturnRows(deviceRows("d6b1e3b0-1111-4222-8333-444455556666", "AA:BB:CC:DD:EE:F2", "c-4", domain.DeviceStatusWaiting))

	devices, total, err := repo.ListDevices(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, devices, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:F2", devices[0].MACAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}
