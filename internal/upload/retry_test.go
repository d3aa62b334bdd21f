package upload_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/classgrade/gradepipe/internal/upload"
	mockuploader "github.com/classgrade/gradepipe/internal/upload/mock"
)

func TestStoreIdentifier(t *testing.T) {
	t.Run("NoError", func(t *testing.T) {
		ctx := context.Background()
		expected := "identifier"

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		u.EXPECT().StoreIdentifier(gomock.Any()).Return(expected, nil).Times(1)

		retrier := upload.NewRetryUploader(u)
		actual, err := retrier.StoreIdentifier(ctx)

		require.NoError(t, err, "failed to get store identifier")

		assert.Equal(t, expected, actual, "not matching identifier")
	})

	t.Run("ErrorAfter1Try", func(t *testing.T) {
		ctx := context.Background()
		expected := "identifier"

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		counter := new(int)
		u.EXPECT().
			StoreIdentifier(gomock.Any()).
			DoAndReturn(func(_ context.Context) (string, error) {
				*counter++
				if *counter == 2 {
					return expected, nil
				}

				return "", errors.New("expected error")
			}).
			Times(2)

		retrier := upload.NewRetryUploader(u)
		actual, err := retrier.StoreIdentifier(ctx)

		require.NoError(t, err, "failed to get store identifier")

		assert.Equal(t, expected, actual, "not matching identifier")
	})

	t.Run("Error", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		u.EXPECT().StoreIdentifier(gomock.Any()).Return("", errors.New("expected error")).Times(4)

		retrier := upload.NewRetryUploaderBackoff(u, func() retry.Backoff {
			b := retry.NewConstant(time.Millisecond * 10)
			b = retry.WithMaxRetries(3, b)
			return b
		})
		_, err := retrier.StoreIdentifier(ctx)

		require.Error(t, err, "somehow did not get error")
	})
}

func TestUpload(t *testing.T) {
	t.Run("NoError", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		reader := strings.NewReader("PK\x03\x04 fake archive")
		key := "key"

		u.EXPECT().
			Upload(gomock.Any(), gomock.Any(), gomock.Eq(int64(reader.Len())), gomock.Eq(key)).
			Return(nil).
			Times(1)

		retrier := upload.NewRetryUploader(u)
		err := retrier.Upload(ctx, reader, int64(reader.Len()), key)

		require.NoError(t, err, "failed to upload")
	})

	t.Run("ErrorAfter1Try", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		reader := strings.NewReader("PK\x03\x04 fake archive")
		key := "key"

		counter := new(int)
		u.EXPECT().
			Upload(gomock.Any(), gomock.Any(), gomock.Eq(int64(reader.Len())), gomock.Eq(key)).
			DoAndReturn(func(_ context.Context, r io.Reader, _ int64, _ string) error {
				*counter++
				if *counter == 2 {
					// the retry wrapper must rewind the buffer between tries
					content, err := io.ReadAll(r)
					require.NoError(t, err, "failed to read buffer")
					assert.Equal(t, "PK\x03\x04 fake archive", string(content), "buffer should be rewound before each try")
					return nil
				}

				return errors.New("expected error")
			}).
			Times(2)

		retrier := upload.NewRetryUploader(u)
		err := retrier.Upload(ctx, reader, int64(reader.Len()), key)

		require.NoError(t, err, "failed to upload")
	})

	t.Run("Error", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		reader := strings.NewReader("PK\x03\x04 fake archive")
		key := "key"

		u.EXPECT().
			Upload(gomock.Any(), gomock.Any(), gomock.Eq(int64(reader.Len())), gomock.Eq(key)).
			Return(errors.New("expected error")).
			Times(4)

		retrier := upload.NewRetryUploaderBackoff(u, func() retry.Backoff {
			b := retry.NewConstant(time.Millisecond * 10)
			b = retry.WithMaxRetries(3, b)
			return b
		})
		err := retrier.Upload(ctx, reader, int64(reader.Len()), key)

		require.Error(t, err, "somehow uploaded")
	})
}

func TestExists(t *testing.T) {
	t.Run("NoErrorExists", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		key := "key"
		expected := true

		u.EXPECT().Exists(gomock.Any(), gomock.Eq(key)).Return(expected, nil).Times(1)

		retrier := upload.NewRetryUploader(u)
		actual, err := retrier.Exists(ctx, key)

		require.NoError(t, err, "failed to get exists")

		assert.Equal(t, expected, actual, "did not get expected")
	})

	t.Run("ErrorAfter1Try", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		expected := true
		key := "key"

		counter := new(int)
		u.EXPECT().
			Exists(gomock.Any(), gomock.Eq(key)).
			DoAndReturn(func(_ context.Context, _ string) (bool, error) {
				*counter++
				if *counter == 2 {
					return expected, nil
				}

				return false, errors.New("expected error")
			}).
			Times(2)

		retrier := upload.NewRetryUploader(u)
		actual, err := retrier.Exists(ctx, key)
		require.NoError(t, err, "failed to get exists")

		assert.Equal(t, expected, actual, "did not get expected")
	})

	t.Run("Error", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		key := "key"

		u.EXPECT().
			Exists(gomock.Any(), gomock.Eq(key)).
			Return(false, errors.New("expected error")).
			Times(4)

		retrier := upload.NewRetryUploaderBackoff(u, func() retry.Backoff {
			b := retry.NewConstant(time.Millisecond * 10)
			b = retry.WithMaxRetries(3, b)
			return b
		})
		_, err := retrier.Exists(ctx, key)

		require.Error(t, err, "somehow exists")
	})
}

func TestHashedBytes(t *testing.T) {
	data := []byte("PK\x03\x04 fake archive")
	sum := sha256.Sum256(data)
	expectedKey := hex.EncodeToString(sum[:])

	t.Run("New", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		u.EXPECT().Exists(gomock.Any(), gomock.Eq(expectedKey)).Return(false, nil).Times(1)
		u.EXPECT().
			Upload(gomock.Any(), gomock.Any(), gomock.Eq(int64(len(data))), gomock.Eq(expectedKey)).
			Return(nil).
			Times(1)

		key, err := upload.HashedBytes(ctx, u, data)
		require.NoError(t, err, "failed to upload by hash")

		assert.Equal(t, expectedKey, key, "key should be the content hash")
	})

	t.Run("AlreadyStored", func(t *testing.T) {
		ctx := context.Background()

		ctrl := gomock.NewController(t)
		u := mockuploader.NewMockUploader(ctrl)

		u.EXPECT().Exists(gomock.Any(), gomock.Eq(expectedKey)).Return(true, nil).Times(1)

		key, err := upload.HashedBytes(ctx, u, data)
		require.NoError(t, err, "failed to upload by hash")

		assert.Equal(t, expectedKey, key, "key should be the content hash")
	})
}
