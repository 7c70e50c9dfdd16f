package artifact

import (
	"path"
	"strings"
)

// RepoFile represents one entry in a repository's file tree.
type RepoFile struct {
	Type string   `json:"type"` // "file" or "directory"
	Path string   `json:"path"` // relative path in repo
	Size int64    `json:"size"` // file size in bytes (0 for directories)
	OID  string   `json:"oid"`  // git blob id
	LFS  *LFSInfo `json:"lfs"`  // present if LFS file
}

// LFSInfo holds LFS-specific file metadata.
type LFSInfo struct {
	OID         string `json:"oid"`
	Size        int64  `json:"size"`
	PointerSize int64  `json:"pointer_size"`
}

// ActualSize returns the real file size, accounting for LFS pointer files.
func (f *RepoFile) ActualSize() int64 {
	if f.LFS != nil {
		return f.LFS.Size
	}
	return f.Size
}

// Filename returns the base filename without the directory path.
func (f *RepoFile) Filename() string {
	return path.Base(f.Path)
}

type fileType int

const (
	fileTypeUnknown fileType = iota
	fileTypeWeights
	fileTypeConfig
)

var configExtensions = []string{".json", ".txt", ".model", ".tiktoken"}

var specialConfigFiles = []string{
	"tokenizer.json", "tokenizer_config.json", "special_tokens_map.json",
	"generation_config.json", "config.json", "vocab.json", "merges.txt",
}

func classifyFile(filename string) fileType {
	lower := strings.ToLower(filename)

	if strings.HasSuffix(lower, ".safetensors") || strings.HasSuffix(lower, ".gguf") {
		return fileTypeWeights
	}

	for _, ext := range configExtensions {
		if strings.HasSuffix(lower, ext) {
			return fileTypeConfig
		}
	}
	for _, special := range specialConfigFiles {
		if strings.EqualFold(filename, special) {
			return fileTypeConfig
		}
	}
	return fileTypeUnknown
}

// FilterModelFiles splits a repository's file tree into weight files
// (safetensors/gguf) and the config/tokenizer files needed alongside them,
// ignoring anything else (READMEs, example scripts, alternate formats).
func FilterModelFiles(files []RepoFile) (weights []RepoFile, configs []RepoFile) {
	for _, f := range files {
		if f.Type != "file" {
			continue
		}
		switch classifyFile(f.Filename()) {
		case fileTypeWeights:
			weights = append(weights, f)
		case fileTypeConfig:
			configs = append(configs, f)
		}
	}
	return weights, configs
}

// TotalSize sums ActualSize across files.
func TotalSize(files []RepoFile) int64 {
	var total int64
	for _, f := range files {
		total += f.ActualSize()
	}
	return total
}

// FilterByVariant narrows weight files down to a requested quantization or
// sharding variant, matched against a substring of the filename (e.g.
// "Q4_K_M" for a GGUF quant, or a multi-file shard prefix). An empty
// variant returns files unchanged. When the variant matches nothing,
// files is returned unchanged so the caller can report a clear
// variant-not-found error instead of silently downloading nothing.
func FilterByVariant(files []RepoFile, variant string) []RepoFile {
	if variant == "" {
		return files
	}
	var matched []RepoFile
	needle := strings.ToLower(variant)
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Filename()), needle) {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return files
	}
	return matched
}

// isSafetensorsModel reports whether files contains at least one
// safetensors weight file.
func isSafetensorsModel(files []RepoFile) bool {
	for _, f := range files {
		if f.Type == "file" && classifyFile(f.Filename()) == fileTypeWeights && strings.HasSuffix(strings.ToLower(f.Filename()), ".safetensors") {
			return true
		}
	}
	return false
}

// findMatchingSubdirectory returns the path of the top-level directory in
// files whose name case-insensitively equals tag, or "" if none matches.
// Some GGUF repositories shard quantization variants into subdirectories
// (e.g. "UD-Q4_K_XL/") rather than encoding the variant in the filename.
func findMatchingSubdirectory(files []RepoFile, tag string) string {
	for _, f := range files {
		if f.Type == "directory" && strings.EqualFold(f.Path, tag) {
			return f.Path
		}
	}
	return ""
}

// prefixPaths returns a copy of files with dir prepended to each Path,
// leaving the input slice untouched.
func prefixPaths(files []RepoFile, dir string) []RepoFile {
	out := make([]RepoFile, len(files))
	for i, f := range files {
		out[i] = f
		out[i].Path = dir + "/" + f.Path
	}
	return out
}

// FindVariantSubdirectory is the exported form of findMatchingSubdirectory,
// used by the Router to resolve a checkpoint's ":variant" token against a
// GGUF repo that shards quantizations into subdirectories rather than
// encoding them in filenames.
func FindVariantSubdirectory(files []RepoFile, tag string) string {
	return findMatchingSubdirectory(files, tag)
}

// FilesUnderSubdirectory returns the files (weights and configs alike)
// whose Path falls under dir. Paths are returned unchanged (they already
// start with dir), so the returned RepoFiles still resolve against the
// repository root.
func FilesUnderSubdirectory(files []RepoFile, dir string) []RepoFile {
	var nested []RepoFile
	prefix := dir + "/"
	for _, f := range files {
		if f.Type == "file" && strings.HasPrefix(f.Path, prefix) {
			nested = append(nested, f)
		}
	}
	return nested
}
