// Package storage archives finished sessions to S3: the result document plus
// every captured page image, optionally sealed with a passphrase.
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// sealed payload layout: magic(8) + salt(16) + nonce(12) + ciphertext+tag
var sealMagic = []byte("GCMSEAL1")

const (
	saltLen      = 16
	nonceLen     = 12
	pbkdf2Rounds = 100000
)

// Archive uploads session artifacts to a bucket under sessions/<id>/.
type Archive struct {
	uploader   *manager.Uploader
	client     *s3.Client
	bucket     string
	passphrase string
}

// NewArchive builds an Archive using the default AWS credential chain. An
// empty passphrase disables encryption.
func NewArchive(ctx context.Context, bucket, passphrase string) (*Archive, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &Archive{
		uploader:   manager.NewUploader(cli),
		client:     cli,
		bucket:     bucket,
		passphrase: passphrase,
	}, nil
}

// ArchiveSession uploads the result document and the captured page images.
// Individual image failures are logged and skipped; the result document
// failing is an error.
func (a *Archive) ArchiveSession(ctx context.Context, sessionID string, result []byte, imagePaths []string) error {
	if err := a.put(ctx, a.key(sessionID, "result.json"), result, "application/json"); err != nil {
		return fmt.Errorf("failed to archive result: %w", err)
	}

	uploaded := 0
	for _, imgPath := range imagePaths {
		data, err := os.ReadFile(imgPath)
		if err != nil {
			log.Warn().Err(err).Str("image", imgPath).Msg("skipping unreadable page image")
			continue
		}
		key := a.key(sessionID, filepath.Base(imgPath))
		if err := a.put(ctx, key, data, "image/png"); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("page image upload failed")
			continue
		}
		uploaded++
	}

	log.Info().
		Str("session_id", sessionID).
		Int("images", uploaded).
		Bool("sealed", a.passphrase != "").
		Msg("session archived")
	return nil
}

// Fetch downloads and, if sealed, opens one archived artifact.
func (a *Archive) Fetch(ctx context.Context, sessionID, name string) ([]byte, error) {
	key := a.key(sessionID, name)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	if a.passphrase == "" {
		return data, nil
	}
	return open(data, a.passphrase)
}

func (a *Archive) key(sessionID, name string) string {
	return path.Join("sessions", sessionID, name)
}

func (a *Archive) put(ctx context.Context, key string, data []byte, contentType string) error {
	if a.passphrase != "" {
		sealed, err := seal(data, a.passphrase)
		if err != nil {
			return err
		}
		data = sealed
		contentType = "application/octet-stream"
	}
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s failed: %w", key, err)
	}
	return nil
}

// seal encrypts data with AES-GCM under a key derived from the passphrase.
func seal(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := gcmFor(passphrase, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealMagic)+saltLen+nonceLen+len(data)+gcm.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// open reverses seal.
func open(sealed []byte, passphrase string) ([]byte, error) {
	header := len(sealMagic) + saltLen + nonceLen
	if len(sealed) < header {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(sealed))
	}
	if !bytes.Equal(sealed[:len(sealMagic)], sealMagic) {
		return nil, fmt.Errorf("unrecognized sealed format")
	}
	salt := sealed[len(sealMagic) : len(sealMagic)+saltLen]
	nonce := sealed[len(sealMagic)+saltLen : header]

	gcm, err := gcmFor(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed[header:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func gcmFor(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
