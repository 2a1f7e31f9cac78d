package bootstrap

import (
	"context"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"cogni-rag-go/internal/service"
	"cogni-rag-go/pkg/log"
)

// SeedDocuments 把本地目录中的文件上传到文档容器，容器中已存在的同名文件会被跳过。
// 单个文件失败只记日志。返回新上传的文件数。
func SeedDocuments(ctx context.Context, dir string, docs service.DocumentService) (int, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("[Seed] 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return 0, nil
	}

	existing, err := docs.List(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, d := range existing {
		have[d.Name] = true
	}

	uploaded := 0
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		name := filepath.ToSlash(rel)
		if have[name] {
			log.Infof("[Seed] 已存在，跳过: %s", name)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("[Seed] 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return nil
		}

		if _, err := docs.Upload(ctx, name, f, fi.Size(), mime.TypeByExtension(filepath.Ext(name))); err != nil {
			log.Warnf("[Seed] 上传失败: %s, err=%v", name, err)
			return nil
		}
		uploaded++
		log.Infof("[Seed] 导入完成: %s", name)
		return nil
	})
	return uploaded, walkErr
}
