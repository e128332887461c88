package source

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ObjectStore is the part of the S3 client the file extractors use.
type ObjectStore interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// dayFiles reads every CSV object under <prefix>/<YYYY-MM-DD>/ in a bucket.
type dayFiles struct {
	store  ObjectStore
	bucket string
	prefix string
}

func (f *dayFiles) dayPrefix(date time.Time) string {
	p := strings.Trim(f.prefix, "/")
	if p != "" {
		p += "/"
	}
	return p + date.Format("2006-01-02") + "/"
}

// each calls fn with the body of every CSV object of the day, in listing order.
func (f *dayFiles) each(ctx context.Context, date time.Time, fn func(key string, body io.Reader) error) error {
	prefix := f.dayPrefix(date)
	paginator := s3.NewListObjectsV2Paginator(f.store, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(prefix),
	})
	files := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.Wrapf(err, "list objects %s", prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(strings.ToLower(key), ".csv") {
				continue
			}
			if err := f.read(ctx, key, fn); err != nil {
				return err
			}
			files++
		}
	}
	log.Debug().Str("prefix", prefix).Int("files", files).Msg("object files read")
	return nil
}

func (f *dayFiles) read(ctx context.Context, key string, fn func(key string, body io.Reader) error) error {
	out, err := f.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "get object %s", key)
	}
	defer out.Body.Close()
	if err := fn(key, out.Body); err != nil {
		return errors.Wrapf(err, "decode object %s", key)
	}
	return nil
}

// sameBusinessDate reports whether a raw YYYYMMDD or YYYY-MM-DD date is date.
func sameBusinessDate(raw string, date time.Time) bool {
	return strings.ReplaceAll(strings.TrimSpace(raw), "-", "") == date.Format("20060102")
}

// QuoteFiles extracts AllPriceDepth rows from object storage.
type QuoteFiles struct {
	files dayFiles
}

// NewQuoteFiles creates an extractor for depth files under prefix in bucket.
func NewQuoteFiles(store ObjectStore, bucket, prefix string) *QuoteFiles {
	return &QuoteFiles{files: dayFiles{store: store, bucket: bucket, prefix: prefix}}
}

// Extract returns the depth rows of every file of the day whose business date is date.
func (q *QuoteFiles) Extract(ctx context.Context, date time.Time) ([]DepthRow, error) {
	var rows []DepthRow
	err := q.files.each(ctx, date, func(key string, body io.Reader) error {
		var fileRows []DepthRow
		if err := gocsv.Unmarshal(body, &fileRows); err != nil {
			return err
		}
		kept := 0
		for _, r := range fileRows {
			if sameBusinessDate(r.BusinessDate, date) {
				rows = append(rows, r)
				kept++
			}
		}
		log.Info().Str("key", key).Int("rows", kept).Msg("depth file extracted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TradeFiles extracts XBond deal rows from object storage.
type TradeFiles struct {
	files dayFiles
}

// NewTradeFiles creates an extractor for deal files under prefix in bucket.
func NewTradeFiles(store ObjectStore, bucket, prefix string) *TradeFiles {
	return &TradeFiles{files: dayFiles{store: store, bucket: bucket, prefix: prefix}}
}

// Extract returns the deal rows of every file of the day whose business date is date.
func (t *TradeFiles) Extract(ctx context.Context, date time.Time) ([]DealRow, error) {
	var rows []DealRow
	err := t.files.each(ctx, date, func(key string, body io.Reader) error {
		var fileRows []DealRow
		if err := gocsv.Unmarshal(body, &fileRows); err != nil {
			return err
		}
		kept := 0
		for _, r := range fileRows {
			if sameBusinessDate(r.BusinessDate, date) {
				rows = append(rows, r)
				kept++
			}
		}
		log.Info().Str("key", key).Int("rows", kept).Msg("deal file extracted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
