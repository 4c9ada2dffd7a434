package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/model"
	"golang.org/x/crypto/nacl/box"
)

// rotateKeysIfDue invokes rotate once the last rotation is older than
// KeyRotationInterval, or was never recorded. The timestamp is only stored
// when the rotation was accepted.
func (o *Orchestrator) rotateKeysIfDue(ctx context.Context, rotate RotateKeysFunc) error {
	last, ok, err := o.deps.Settings.LastKeysRotation(ctx)
	if err != nil {
		return err
	}
	if ok && o.now().Sub(last) < KeyRotationInterval {
		return nil
	}
	if rotate == nil {
		return nil
	}
	auth, err := o.deps.Settings.AuthData(ctx)
	if err != nil {
		return err
	}
	if auth.AccessToken == "" || auth.DeviceID == "" || auth.DeviceToken == "" {
		log.Debug("Cleanup: device keys due but device is not registered")
		return nil
	}

	accepted, err := rotate(ctx)
	if err != nil {
		return fmt.Errorf("rotate device keys: %w", err)
	}
	if !accepted {
		log.Warn("Cleanup: device key rotation was not accepted")
		return nil
	}
	return o.deps.Settings.SetLastKeysRotation(ctx, o.now())
}

// KeyUploader is the backend call that registers a new device public key.
type KeyUploader interface {
	RotateDeviceKeys(ctx context.Context, deviceID, deviceToken, publicKey string) (bool, error)
}

// KeyStore holds the device credentials and its private key.
type KeyStore interface {
	AuthData(ctx context.Context) (model.AuthData, error)
	SetDevicePrivateKey(ctx context.Context, key string) error
}

// NewKeyRotator returns a RotateKeysFunc that generates a NaCl box key pair,
// uploads the public half and keeps the private half in keys.
func NewKeyRotator(uploader KeyUploader, keys KeyStore) RotateKeysFunc {
	return func(ctx context.Context) (bool, error) {
		auth, err := keys.AuthData(ctx)
		if err != nil {
			return false, err
		}
		public, private, err := box.GenerateKey(rand.Reader)
		if err != nil {
			return false, fmt.Errorf("generate key pair: %w", err)
		}
		accepted, err := uploader.RotateDeviceKeys(ctx, auth.DeviceID, auth.DeviceToken,
			base64.StdEncoding.EncodeToString(public[:]))
		if err != nil || !accepted {
			return false, err
		}
		if err := keys.SetDevicePrivateKey(ctx, base64.StdEncoding.EncodeToString(private[:])); err != nil {
			return false, fmt.Errorf("store private key: %w", err)
		}
		log.Info("Cleanup: device keys rotated", "deviceId", auth.DeviceID)
		return true, nil
	}
}
