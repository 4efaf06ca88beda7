package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Input.DocumentExtensions == nil {
		cfg.Input.DocumentExtensions = []string{".pdf", ".docx", ".xlsx"}
	}
	if cfg.Input.ImageExtensions == nil {
		cfg.Input.ImageExtensions = []string{
			".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".heic", ".heif", ".tiff", ".tif",
		}
	}
	if cfg.Processing.ChunkSize == 0 {
		cfg.Processing.ChunkSize = 1000
	}
	if cfg.Processing.ChunkOverlapRatio == 0 {
		cfg.Processing.ChunkOverlapRatio = 0.2
	}
	if cfg.Processing.RetryLimit == 0 {
		cfg.Processing.RetryLimit = 2
	}
	if cfg.Processing.RetryDelay == 0 {
		cfg.Processing.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Processing.BatchSize == 0 {
		cfg.Processing.BatchSize = 5
	}
	if cfg.Processing.PDFImageMinBytes == 0 {
		cfg.Processing.PDFImageMinBytes = 10 * 1024
	}
	if cfg.Processing.PDFImageMaxBytes == 0 {
		cfg.Processing.PDFImageMaxBytes = 20 * 1024 * 1024
	}
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = "/usr/local/var/torikomi/data/db/records.db"
	}
	if cfg.Store.BleveIndexPath == "" {
		cfg.Store.BleveIndexPath = "/usr/local/var/torikomi/data/indices/bleve"
	}
	if cfg.Store.TextCollection == "" {
		cfg.Store.TextCollection = "documents"
	}
	if cfg.Store.ImageCollection == "" {
		cfg.Store.ImageCollection = "images"
	}
	if cfg.Vision.Timeout == 0 {
		cfg.Vision.Timeout = 60 * time.Second
	}
	if cfg.Report.CSVFilename == "" {
		cfg.Report.CSVFilename = "processing_results.csv"
	}
	if cfg.Report.MarkerStaleness == 0 {
		cfg.Report.MarkerStaleness = 60 * time.Second
	}
}
