package model

// QueryRequest 是问答接口的请求体。
type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"topK"`
}

// QueryResponseDTO 是问答接口返回给前端的结构。
type QueryResponseDTO struct {
	Outcome string   `json:"outcome"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// DocumentInfoDTO 描述对象存储中的一个文档。
type DocumentInfoDTO struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified LocalTime `json:"lastModified"`
}

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	Name        string `json:"name"`
	DownloadURL string `json:"downloadUrl"`
	Size        int64  `json:"size"`
}

// PreviewInfoDTO 封装了文件预览所需的信息。
type PreviewInfoDTO struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
}

// IndexStatsDTO 描述向量索引的当前状态。
type IndexStatsDTO struct {
	Backend string `json:"backend"`
	Entries int64  `json:"entries"`
}
