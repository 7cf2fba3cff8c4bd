/*
 * === This file is part of orchestra ===
 *
 * Copyright 2025 the orchestra authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package configuration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/mitchellh/go-homedir"
)

const (
	SCHEME_FILE   = "file"
	SCHEME_CONSUL = "consul"
)

// Source fetches raw descriptor bytes.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	String() string
}

type FileSource struct {
	path string
}

func (s *FileSource) Read(_ context.Context) ([]byte, error) {
	return os.ReadFile(s.path)
}

func (s *FileSource) String() string {
	return s.path
}

// ConsulSource reads a descriptor stored as a single KV value.
type ConsulSource struct {
	uri string
	key string
	kv  *api.KV
}

func NewConsulSource(address, key string) (*ConsulSource, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address
	cli, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ConsulSource{
		uri: SCHEME_CONSUL + "://" + address + "/" + key,
		key: key,
		kv:  cli.KV(),
	}, nil
}

func (s *ConsulSource) Read(ctx context.Context) ([]byte, error) {
	pair, _, err := s.kv.Get(s.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, fmt.Errorf("key %s not found", s.key)
	}
	return pair.Value, nil
}

func (s *ConsulSource) String() string {
	return s.uri
}

// NewSource resolves a descriptor location. Accepted forms are a plain
// path, file:///path and consul://host:port/key/path.
func NewSource(uri string) (Source, error) {
	if uri == "" {
		return nil, errors.New("no deployment descriptor given")
	}
	if !strings.Contains(uri, "://") {
		path, err := homedir.Expand(uri)
		if err != nil {
			return nil, err
		}
		return &FileSource{path: path}, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	switch parsed.Scheme {
	case SCHEME_FILE:
		return &FileSource{path: parsed.Host + parsed.Path}, nil
	case SCHEME_CONSUL:
		key := strings.TrimPrefix(parsed.Path, "/")
		if parsed.Host == "" || key == "" {
			return nil, fmt.Errorf("consul source %s needs both an address and a key", uri)
		}
		return NewConsulSource(parsed.Host, key)
	default:
		return nil, fmt.Errorf("unsupported descriptor scheme %q", parsed.Scheme)
	}
}
