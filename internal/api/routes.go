package api

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/model/info", s.handleModelInfo)

	s.router.POST("/predict", s.handlePredict)
	s.router.POST("/predict/batch", s.handlePredictBatch)

	s.router.GET("/history", s.handleHistory)
	s.router.DELETE("/history", s.handleClearHistory)

	if s.opts.Queue != nil {
		s.router.POST("/predict/async", s.handlePredictAsync)
		s.router.GET("/predict/async/:uuid", s.handleAsyncResult)
	}
}
