// Package roster 读取节点名册文件
package roster

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// File 名册文件格式
//
//	nodes:
//	  - index: 0
//	    name: north-0
//	    address: 0x00E0
type File struct {
	Nodes []Entry `yaml:"nodes"`
}

// Entry 名册中的一个节点；地址可写十进制或 0x 十六进制
type Entry struct {
	Index   int    `yaml:"index"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// Load 读取名册；path 为空时返回默认十节点名册
func Load(path string) ([]coordinator.NodeSpec, error) {
	if path == "" {
		return coordinator.DefaultRoster(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(data)
}

// Parse 解析名册内容
func Parse(data []byte) ([]coordinator.NodeSpec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(f.Nodes) == 0 {
		return nil, errors.New("roster has no nodes")
	}
	specs := make([]coordinator.NodeSpec, 0, len(f.Nodes))
	for i, e := range f.Nodes {
		addr, err := ParseAddress(e.Address)
		if err != nil {
			return nil, fmt.Errorf("roster node %d: %w", i, err)
		}
		if e.Index < 0 {
			return nil, fmt.Errorf("roster node %d: negative index %d", i, e.Index)
		}
		specs = append(specs, coordinator.NodeSpec{Index: e.Index, Name: e.Name, Address: addr})
	}
	return specs, nil
}

// ParseAddress 解析 16 位地址
func ParseAddress(s string) (radio.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("address is required")
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return radio.Address(v), nil
}
