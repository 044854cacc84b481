/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 layout:
//  - snapshot: <prefix>/snapshot.bin
//  - changes:  <prefix>/changes/<seq8>.change
//
// S3 does not support append; change chunks are one object each.

type S3Factory struct {
	AccessKeyID     string // AWS or S3-compatible access key
	SecretAccessKey string // AWS or S3-compatible secret key
	Region          string // AWS region (e.g., "us-east-1")
	Endpoint        string // Custom endpoint for S3-compatible storage (MinIO, etc.)
	Bucket          string // S3 bucket name
	Prefix          string // Object key prefix
	ForcePathStyle  bool   // Use path-style URLs (required for MinIO)
}

func (f *S3Factory) OpenDocument(name string) DocStore {
	pfx := strings.TrimSuffix(f.Prefix, "/")
	if pfx != "" {
		pfx = pfx + "/" + name
	} else {
		pfx = name
	}
	return &S3Store{factory: f, prefix: pfx}
}

type S3Store struct {
	factory *S3Factory
	prefix  string

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func (s *S3Store) ensureOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return
	}
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if s.factory.Region != "" {
		opts = append(opts, config.WithRegion(s.factory.Region))
	}
	if s.factory.AccessKeyID != "" && s.factory.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				s.factory.AccessKeyID,
				s.factory.SecretAccessKey,
				"",
			)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		panic(err)
	}
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.factory.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.factory.Endpoint)
		}
		o.UsePathStyle = s.factory.ForcePathStyle
	})
	s.opened = true
}

func (s *S3Store) key(parts ...string) string {
	return s.prefix + "/" + strings.Join(parts, "/")
}

func (s *S3Store) get(key string) ([]byte, error) {
	s.ensureOpen()
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) put(key string, data []byte) {
	s.ensureOpen()
	_, err := s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.factory.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		panic(err)
	}
}

func (s *S3Store) list(prefix string) []string {
	s.ensureOpen()
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.factory.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			panic(err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, *obj.Key)
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(keys)
	return keys
}

func (s *S3Store) ReadSnapshot() io.ReadCloser {
	data, err := s.get(s.key("snapshot.bin"))
	if err != nil {
		return ErrorReader{err}
	}
	return io.NopCloser(bytes.NewReader(data))
}

// s3SnapshotWriter buffers locally; the object uploads on Close.
type s3SnapshotWriter struct {
	s   *S3Store
	buf bytes.Buffer
}

func (w *s3SnapshotWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *s3SnapshotWriter) Close() error {
	w.s.put(w.s.key("snapshot.bin"), w.buf.Bytes())
	return nil
}

func (s *S3Store) WriteSnapshot() io.WriteCloser {
	return &s3SnapshotWriter{s: s}
}

func (s *S3Store) AppendChange(data []byte) {
	keys := s.list(s.key("changes") + "/")
	next := 1
	if len(keys) > 0 {
		last := keys[len(keys)-1]
		base := strings.TrimSuffix(last[strings.LastIndex(last, "/")+1:], ".change")
		if v, err := strconv.Atoi(base); err == nil {
			next = v + 1
		} else {
			next = len(keys) + 1
		}
	}
	s.put(s.key("changes", fmt.Sprintf("%08d.change", next)), data)
}

func (s *S3Store) ReplayChanges() chan []byte {
	replay := make(chan []byte, 8)
	go func() {
		for _, key := range s.list(s.key("changes") + "/") {
			if data, err := s.get(key); err == nil && len(data) > 0 {
				replay <- data
			}
		}
		close(replay)
	}()
	return replay
}

func (s *S3Store) ClearChanges() {
	s.ensureOpen()
	for _, key := range s.list(s.key("changes") + "/") {
		s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
			Bucket: aws.String(s.factory.Bucket),
			Key:    aws.String(key),
		})
	}
}

func (s *S3Store) Sync() {}

func (s *S3Store) Remove() {
	s.ensureOpen()
	for _, key := range s.list(s.prefix + "/") {
		s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
			Bucket: aws.String(s.factory.Bucket),
			Key:    aws.String(key),
		})
	}
}
