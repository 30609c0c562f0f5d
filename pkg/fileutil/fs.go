package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem は実ファイルシステムと fs.FS (embed.FS, fstest.MapFS など) を統一的に扱う
type FileSystem interface {
	// Open はファイルを開く（大文字小文字を無視）
	Open(name string) (fs.File, error)
	// ReadFile はファイルの内容を読み込む（大文字小文字を無視）
	ReadFile(name string) ([]byte, error)
	// Stat はファイル情報を返す（大文字小文字を無視）
	Stat(name string) (fs.FileInfo, error)
	// ReadDir はディレクトリの内容を読み込む
	ReadDir(name string) ([]fs.DirEntry, error)
	// FindFile は大文字小文字を無視してファイルを検索し、実際のパスを返す
	FindFile(dir, filename string) (string, error)
	// BasePath はベースパスを返す
	BasePath() string
}

// RealFS は実ファイルシステムへのアクセスを提供する
type RealFS struct {
	basePath string
}

// NewRealFS returns a FileSystem rooted at basePath. An empty basePath
// resolves names against the working directory, and absolute names are
// always used as is.
func NewRealFS(basePath string) *RealFS {
	return &RealFS{basePath: basePath}
}

func (r *RealFS) Open(name string) (fs.File, error) {
	path, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (r *RealFS) ReadFile(name string) ([]byte, error) {
	path, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (r *RealFS) Stat(name string) (fs.FileInfo, error) {
	path, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

func (r *RealFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(r.resolvePath(name))
}

func (r *RealFS) FindFile(dir, filename string) (string, error) {
	return FindFileCaseInsensitive(r.resolvePath(dir), filename)
}

func (r *RealFS) BasePath() string {
	return r.basePath
}

func (r *RealFS) resolvePath(name string) string {
	if filepath.IsAbs(name) || r.basePath == "" {
		return name
	}
	return filepath.Join(r.basePath, name)
}

// locate はまず直接アクセスを試み、失敗したら大文字小文字を無視して検索する
func (r *RealFS) locate(name string) (string, error) {
	path := r.resolvePath(name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return FindFileCaseInsensitive(filepath.Dir(path), filepath.Base(path))
}

// SubFS は fs.FS のサブツリーへのアクセスを提供する
type SubFS struct {
	fsys     fs.FS
	basePath string
}

// NewSubFS wraps fsys. Names are resolved below basePath, which uses
// forward slashes like every fs.FS path.
func NewSubFS(fsys fs.FS, basePath string) *SubFS {
	return &SubFS{fsys: fsys, basePath: basePath}
}

func (s *SubFS) Open(name string) (fs.File, error) {
	path, err := s.locate(name)
	if err != nil {
		return nil, err
	}
	return s.fsys.Open(path)
}

func (s *SubFS) ReadFile(name string) ([]byte, error) {
	path, err := s.locate(name)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(s.fsys, path)
}

func (s *SubFS) Stat(name string) (fs.FileInfo, error) {
	path, err := s.locate(name)
	if err != nil {
		return nil, err
	}
	return fs.Stat(s.fsys, path)
}

func (s *SubFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(s.fsys, s.resolvePath(name))
}

func (s *SubFS) FindFile(dir, filename string) (string, error) {
	return FindFileCaseInsensitiveFS(s.fsys, s.resolvePath(dir), filename)
}

func (s *SubFS) BasePath() string {
	return s.basePath
}

func (s *SubFS) resolvePath(name string) string {
	// 先頭の "/" や "\" を除去
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/"), "./")
	if clean == "." || clean == "" {
		if s.basePath != "" {
			return s.basePath
		}
		return "."
	}
	if s.basePath != "" {
		return s.basePath + "/" + clean
	}
	return clean
}

func (s *SubFS) locate(name string) (string, error) {
	path := s.resolvePath(name)
	if _, err := fs.Stat(s.fsys, path); err == nil {
		return path, nil
	}
	dir, file := ".", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, file = path[:i], path[i+1:]
	}
	return FindFileCaseInsensitiveFS(s.fsys, dir, file)
}

// WalkDir はディレクトリを再帰的に走査する
// 返されるパスはベースパスからの相対パス
func WalkDir(fsys FileSystem, root string, fn fs.WalkDirFunc) error {
	switch f := fsys.(type) {
	case *SubFS:
		base := f.basePath
		return fs.WalkDir(f.fsys, f.resolvePath(root), func(walkPath string, d fs.DirEntry, err error) error {
			rel := walkPath
			if base != "" && strings.HasPrefix(walkPath, base+"/") {
				rel = strings.TrimPrefix(walkPath, base+"/")
			} else if base != "" && walkPath == base {
				rel = "."
			}
			return fn(rel, d, err)
		})
	case *RealFS:
		base := f.basePath
		return filepath.WalkDir(f.resolvePath(root), func(walkPath string, d fs.DirEntry, err error) error {
			rel := walkPath
			if base != "" {
				if r, relErr := filepath.Rel(base, walkPath); relErr == nil {
					rel = r
				}
			}
			return fn(rel, d, err)
		})
	}
	return fmt.Errorf("unsupported file system type %T", fsys)
}
