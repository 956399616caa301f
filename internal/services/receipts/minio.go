package receipts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/skip2/go-qrcode"

	"storefront_back_end/internal/models"
)

const (
	DefaultURLExpiry = 15 * time.Minute
	qrSize           = 256
)

// MinIOArchiver dépose une copie JSON de chaque commande dans le bucket des
// reçus, une clé par commande.
type MinIOArchiver struct {
	client *minio.Client
	bucket string
}

func NewMinIOArchiver(client *minio.Client, bucket string) *MinIOArchiver {
	return &MinIOArchiver{client: client, bucket: bucket}
}

// ObjectKey : receipts/<user_id>/<order_number>.json.
func ObjectKey(o models.Order) string {
	return fmt.Sprintf("receipts/%s/%s.json", url.PathEscape(o.UserID), o.OrderNumber)
}

// Document est le reçu archivé : la commande figée plus un QR code du numéro
// de commande, prêt à mettre dans <img src="...">.
type Document struct {
	models.Order
	QRCode string `json:"qr_code"`
}

// OrderQR encode le numéro de commande en PNG base64.
func OrderQR(orderNumber string) (string, error) {
	png, err := qrcode.Encode(orderNumber, qrcode.Medium, qrSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (a *MinIOArchiver) Archive(ctx context.Context, o models.Order) error {
	qr, err := OrderQR(o.OrderNumber)
	if err != nil {
		return fmt.Errorf("qr reçu %s: %w", o.OrderNumber, err)
	}
	data, err := json.MarshalIndent(Document{Order: o, QRCode: qr}, "", "  ")
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucket, ObjectKey(o), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"order-id": o.ID.String(),
				"user-id":  o.UserID,
			},
		})
	if err != nil {
		return fmt.Errorf("upload reçu %s: %w", o.OrderNumber, err)
	}
	return nil
}

// URL renvoie un lien de téléchargement temporaire vers le reçu.
func (a *MinIOArchiver) URL(ctx context.Context, o models.Order, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s.json"`, o.OrderNumber))

	u, err := a.client.PresignedGetObject(ctx, a.bucket, ObjectKey(o), expiry, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
